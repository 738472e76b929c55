package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoangnd/queuemedic/internal/infra/storage"
	"github.com/hoangnd/queuemedic/internal/observers"
	"github.com/hoangnd/queuemedic/internal/recovery"
)

// Server provides the health, metrics and manual-intervention endpoints.
type Server struct {
	monitor     *Monitor
	orch        *recovery.Orchestrator
	activity    *observers.ActivityLog
	broadcaster *observers.Broadcaster
	server      *http.Server
}

// NewServer creates the admin HTTP server.
func NewServer(monitor *Monitor, orch *recovery.Orchestrator, activity *observers.ActivityLog, broadcaster *observers.Broadcaster, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor:     monitor,
		orch:        orch,
		activity:    activity,
		broadcaster: broadcaster,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/failed", s.handleFailed)
	mux.HandleFunc("GET /api/deadletter", s.handleDeadLetter)
	mux.HandleFunc("GET /api/timeline/{correlationID}", s.handleTimeline)
	mux.HandleFunc("GET /api/events/recent", s.handleRecentEvents)
	mux.HandleFunc("GET /api/events/stream", s.handleStream)
	mux.HandleFunc("POST /api/retry/{itemID}", s.handleRetry)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	writeJSON(w, report)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	records, err := s.orch.ListFailedItems(r.Context(), true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	records, err := s.orch.ListDeadLetterItems(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.activity.Timeline(r.Context(), r.PathValue("correlationID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.activity.Recent(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("itemID")
	err := s.orch.ForceRetry(r.Context(), itemID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"item_id": itemID, "status": "retry started"})
}

// handleStream serves the event feed over SSE.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, detach := s.broadcaster.Attach()
	defer detach()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if v == nil {
		v = []struct{}{}
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
