package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/config"
	"github.com/hoangnd/queuemedic/internal/infra/downloader"
)

func testConfig(downloaderURL string) *config.AppConfig {
	return &config.AppConfig{
		Server:  config.ServerConfig{Port: 0},
		Monitor: config.MonitorConfig{Interval: time.Hour, FetchTimeout: time.Second},
		Recovery: config.RecoveryConfig{
			MaxRetries:    3,
			BackoffBase:   5 * time.Minute,
			BackoffMax:    6 * time.Hour,
			InvokeTimeout: time.Second,
		},
		Downloader: downloader.Config{BaseURL: downloaderURL, Timeout: time.Second},
		Storage:    config.StorageConfig{Backend: "memory"},
	}
}

func TestApp_LifecycleWithMemoryStorage(t *testing.T) {
	// A downloader that always answers with an empty queue.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"slots": []any{}, "version": "4.0"})
	}))
	defer upstream.Close()

	app, err := New(testConfig(upstream.URL), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The first poll runs immediately; wait for its heartbeat.
	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := app.bus.Stats()
		if stats.TotalPublished >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no heartbeat published after start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestApp_UnknownBackendFallsBackToMemory(t *testing.T) {
	cfg := testConfig("")
	cfg.Storage.Backend = "memory"

	app, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if app.orchestrator == nil || app.monitor == nil {
		t.Fatal("components not wired")
	}
	_ = app.Stop(context.Background())
}
