package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"storyforge/pkg/tracker"
	"storyforge/pkg/version"
)

// ClientConfig tunes timeouts and retry behaviour.
type ClientConfig struct {
	Retries   int           // extra attempts on network errors, 429 and 5xx
	Timeout   time.Duration // hard cap per HTTP round trip
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// Client handles HTTP requests with per-backend queuing, backoff and tracking.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	cfg        ClientConfig

	// Queues per backend, so one slow backend never blocks another
	queues  map[string]chan job
	aliases map[string]string // host -> backend name
	mu      sync.Mutex
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client.
func New(t *tracker.Tracker, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
		queues:     make(map[string]chan job),
		aliases:    make(map[string]string),
	}
}

// RegisterBackend names the host of baseURL so stats and queues use the
// backend name ("ollama", "sd", "tts") instead of host:port.
func (c *Client) RegisterBackend(name, baseURL string) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[u.Host] = name
}

// Tracker returns the stats tracker shared by all backends.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Get performs a queued GET request.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil)
}

// GetWithHeaders performs a queued GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(ctx, req, headers)
}

// Post performs a queued POST request.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostJSON marshals payload and POSTs it as application/json.
func (c *Client) PostJSON(ctx context.Context, u string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.Post(ctx, u, body, "application/json")
}

// PostWithHeaders performs a queued POST request with custom headers.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Retries need a fresh body reader
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return c.do(ctx, req, headers)
}

func (c *Client) do(ctx context.Context, req *http.Request, headers map[string]string) ([]byte, error) {
	respChan := make(chan jobResult, 1)
	c.dispatch(c.backendFor(req.URL.Host), job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func (c *Client) backendFor(host string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return normalizeProvider(host, c.aliases)
}

func normalizeProvider(host string, aliases map[string]string) string {
	if name, ok := aliases[host]; ok {
		return name
	}
	if strings.HasSuffix(host, "googleapis.com") {
		return "gemini"
	}
	if host == "api.openai.com" {
		return "openai"
	}
	return host
}

// dispatch sends the job to the backend's queue, creating the queue/worker if needed.
func (c *Client) dispatch(backend string, j job) {
	c.mu.Lock()
	q, ok := c.queues[backend]
	if !ok {
		q = make(chan job, 100)
		c.queues[backend] = q
		go c.worker(backend, q)
	}
	c.mu.Unlock()

	// Blocks when the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for one backend sequentially.
func (c *Client) worker(backend string, q <-chan job) {
	for j := range q {
		if j.req.Context().Err() != nil {
			slog.Warn("Request dropped from queue (context expired)", "backend", backend, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", version.UserAgent())
		}

		if err := c.backoff.Wait(j.req.Context(), backend); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		start := time.Now()
		body, err := c.executeWithBackoff(j.req)
		if err == nil {
			c.backoff.RecordSuccess(backend)
			c.tracker.TrackAPISuccess(backend, time.Since(start))
		} else if j.req.Context().Err() == nil {
			// Caller cancellations say nothing about backend health
			c.backoff.RecordFailure(backend)
			c.tracker.TrackAPIFailure(backend, err)
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithBackoff attempts the request, retrying retryable failures
// cfg.Retries times with exponential backoff.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	maxAttempts := c.cfg.Retries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 {
			sleepDur := time.Duration(math.Pow(2, float64(attempt-1))) * c.cfg.BaseDelay
			select {
			case <-time.After(sleepDur):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to rewind body: %w", err)
				}
				req.Body = body
			}
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			slog.Warn("Request failed", "url", req.URL.Redacted(), "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL.Redacted(), "attempt", attempt+1)
			lastErr = newHTTPError(resp.StatusCode, req.URL, body)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, newHTTPError(resp.StatusCode, req.URL, body)
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	if maxAttempts > 1 {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

func newHTTPError(status int, u *url.URL, body []byte) *HTTPError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return &HTTPError{StatusCode: status, URL: u.Redacted(), Body: msg}
}
