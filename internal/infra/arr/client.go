package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hoangnd/queuemedic/internal/recovery"
)

// Config holds one upstream manager's connection settings.
type Config struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to one upstream media manager (show or movie) over its
// HTTP API. Alternative searches are issued as search commands with
// optional quality and release constraints.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a manager API wrapper.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		name:    cfg.Name,
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

// Name returns the manager's configured name.
func (c *Client) Name() string { return c.name }

// Search issues an alternative-release search for one download item.
func (c *Client) Search(ctx context.Context, itemID string, constraints recovery.SearchConstraints) error {
	cmd := map[string]any{
		"name":   "DownloadSearch",
		"itemId": itemID,
	}
	if constraints.MaxQuality != "" {
		cmd["maxQuality"] = constraints.MaxQuality
	}
	if constraints.ExcludeRelease != "" {
		cmd["excludeRelease"] = constraints.ExcludeRelease
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/command", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search command: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Health checks the manager's status endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/system/status", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

// Retrier re-queues an item in the download client.
type Retrier interface {
	RetryItem(ctx context.Context, itemID string) error
}

// Capability composes the download client and the upstream managers
// into the single retry surface the orchestrator consumes. Searches are
// offered to each manager in order; the first success wins.
type Capability struct {
	downloader Retrier
	managers   []*Client
}

// NewCapability creates the combined retry capability.
func NewCapability(downloader Retrier, managers ...*Client) *Capability {
	return &Capability{downloader: downloader, managers: managers}
}

// RetryItem re-queues the item as-is.
func (c *Capability) RetryItem(ctx context.Context, itemID string) error {
	return c.downloader.RetryItem(ctx, itemID)
}

// SearchAlternative asks the managers for a replacement release.
func (c *Capability) SearchAlternative(ctx context.Context, itemID string, constraints recovery.SearchConstraints) error {
	if len(c.managers) == 0 {
		return fmt.Errorf("no upstream managers configured")
	}
	var last error
	for _, m := range c.managers {
		if err := m.Search(ctx, itemID, constraints); err != nil {
			last = fmt.Errorf("manager %s: %w", m.name, err)
			continue
		}
		return nil
	}
	return last
}
