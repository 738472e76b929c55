package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// Config holds download client connection settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the download client's HTTP API: queue and history
// snapshots plus the per-item retry operation.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a download client API wrapper.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type queueItemWire struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Status   string `json:"status"`
	Message  string `json:"fail_message"`
	Release  string `json:"release"`
	Quality  string `json:"quality"`
}

func (w queueItemWire) toDomain() domain.QueueItem {
	return domain.QueueItem{
		ID:       w.ID,
		Title:    w.Title,
		Category: w.Category,
		State:    mapState(w.Status),
		Message:  w.Message,
		Release:  w.Release,
		Quality:  w.Quality,
	}
}

func mapState(status string) domain.ItemState {
	switch status {
	case "Queued", "Grabbing", "Propagating":
		return domain.ItemStateQueued
	case "Downloading", "Fetching":
		return domain.ItemStateDownloading
	case "Extracting", "Verifying", "Repairing", "Moving":
		return domain.ItemStateExtracting
	case "Completed":
		return domain.ItemStateCompleted
	case "Failed":
		return domain.ItemStateFailed
	case "Paused":
		return domain.ItemStatePaused
	default:
		return domain.ItemStateQueued
	}
}

// FetchQueueSnapshot returns the active queue plus recent history in one
// consistent view.
func (c *Client) FetchQueueSnapshot(ctx context.Context) (*domain.QueueSnapshot, error) {
	var queue struct {
		Slots []queueItemWire `json:"slots"`
	}
	if err := c.get(ctx, "/api/queue", &queue); err != nil {
		return nil, fmt.Errorf("fetch queue: %w", err)
	}

	var history struct {
		Slots []queueItemWire `json:"slots"`
	}
	if err := c.get(ctx, "/api/history", &history); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	snap := &domain.QueueSnapshot{
		Active:  make([]domain.QueueItem, 0, len(queue.Slots)),
		History: make([]domain.QueueItem, 0, len(history.Slots)),
	}
	for _, w := range queue.Slots {
		snap.Active = append(snap.Active, w.toDomain())
	}
	for _, w := range history.Slots {
		snap.History = append(snap.History, w.toDomain())
	}
	return snap, nil
}

// RetryItem re-queues a failed item as-is.
func (c *Client) RetryItem(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/api/queue/%s/retry", url.PathEscape(itemID))
	if err := c.post(ctx, path, nil); err != nil {
		return fmt.Errorf("retry item %s: %w", itemID, err)
	}
	return nil
}

// Health checks the download client's version endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Version string `json:"version"`
	}
	return c.get(ctx, "/api/version", &out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
