package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comfypod/comfypod/pkg/debug"
	"github.com/comfypod/comfypod/pkg/observability"
	"github.com/comfypod/comfypod/pkg/workflow"
)

// Client talks to a single ComfyUI server.
type Client struct {
	baseURL  string
	clientID string
	httpc    *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClientID sets a fixed client id instead of a generated one. The
// client id ties websocket progress messages to queued prompts.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// New creates a client for the ComfyUI server at baseURL, e.g.
// "http://127.0.0.1:8188".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.New().String(),
		httpc:    &http.Client{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the client id sent with queued prompts and used for
// the websocket subscription.
func (c *Client) ClientID() string { return c.clientID }

// Health checks that the server answers /system_stats.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.SystemStats(ctx)
	return err
}

// SystemStats retrieves the server and device statistics.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WaitReady polls /system_stats until the server responds or the timeout
// elapses. It is used after launching a ComfyUI process, which can spend
// minutes loading models on first start.
func (c *Client) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Health(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("comfyui at %s not ready within %s: %w", c.baseURL, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ObjectInfo retrieves the server's node catalog: every registered node
// class with its input and output schema. The payload is large and
// version-dependent, so values stay undecoded.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]json.RawMessage, error) {
	var info map[string]json.RawMessage
	if err := c.getJSON(ctx, "/object_info", &info); err != nil {
		return nil, err
	}
	return info, nil
}

// QueuePrompt submits a workflow for execution and returns the engine's
// prompt id. Rejections decode into *PromptError.
func (c *Client) QueuePrompt(ctx context.Context, g workflow.Graph) (string, error) {
	payload := struct {
		Prompt   workflow.Graph `json:"prompt"`
		ClientID string         `json:"client_id"`
	}{Prompt: g, ClientID: c.clientID}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding prompt: %w", err)
	}
	// Full spliced graphs are only visible at TRACE.
	debug.Raw("comfy", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		recordEngineRequest("/prompt", 0)
		return "", fmt.Errorf("queueing prompt: %w", err)
	}
	defer resp.Body.Close()
	recordEngineRequest("/prompt", resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading prompt response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		perr := &PromptError{}
		if err := json.Unmarshal(data, perr); err == nil && perr.Err.Message != "" {
			return "", perr
		}
		return "", fmt.Errorf("queueing prompt: status %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var queued struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(data, &queued); err != nil {
		return "", fmt.Errorf("decoding prompt response: %w", err)
	}
	if queued.PromptID == "" {
		return "", fmt.Errorf("engine did not return a prompt_id")
	}

	c.logger.Debug("prompt queued", "prompt_id", queued.PromptID)
	return queued.PromptID, nil
}

// History fetches the history entry for a prompt. found is false while
// the prompt is still queued or executing.
func (c *Client) History(ctx context.Context, promptID string) (entry *HistoryEntry, found bool, err error) {
	var entries map[string]*HistoryEntry
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &entries); err != nil {
		return nil, false, err
	}
	e, ok := entries[promptID]
	if !ok {
		return nil, false, nil
	}
	return e, true, nil
}

// WaitForPrompt polls history until the prompt finishes or the context is
// cancelled. Transient poll errors are logged and retried; the entry is
// returned even when it records a failed execution.
func (c *Client) WaitForPrompt(ctx context.Context, promptID string, interval time.Duration) (*HistoryEntry, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		entry, found, err := c.History(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("history poll failed", "prompt_id", promptID, "error", err)
			continue
		}
		if found {
			return entry, nil
		}
	}
}

// View downloads an image from the server.
func (c *Client) View(ctx context.Context, ref ImageRef) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", ref.Filename)
	params.Set("subfolder", ref.Subfolder)
	params.Set("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		recordEngineRequest("/view", 0)
		return nil, fmt.Errorf("downloading %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()
	recordEngineRequest("/view", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: status %d", ref.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Interrupt asks the server to abort the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", strings.NewReader("{}"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		recordEngineRequest("/interrupt", 0)
		return fmt.Errorf("interrupting: %w", err)
	}
	defer resp.Body.Close()
	recordEngineRequest("/interrupt", resp.StatusCode)
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("interrupting: status %d", resp.StatusCode)
	}
	return nil
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		recordEngineRequest(path, 0)
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	recordEngineRequest(path, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: decoding response: %w", path, err)
	}
	return nil
}

// recordEngineRequest feeds the engine call counter. History paths
// embed the prompt id, so they are collapsed to keep label cardinality
// flat; a zero status means the request never got a response.
func recordEngineRequest(path string, status int) {
	if strings.HasPrefix(path, "/history/") {
		path = "/history"
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	observability.EngineRequestsTotal.WithLabelValues(path, label).Inc()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
