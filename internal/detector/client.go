package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDisabled means no detector service is configured; sessions must
	// carry pre-computed descriptors.
	ErrDisabled = errors.New("detector disabled")
	// ErrNotReady means the detector's model has not finished loading.
	ErrNotReady = errors.New("detector not ready")
	// ErrUnavailable wraps a request that kept failing after retries.
	ErrUnavailable = errors.New("detector service unavailable")
)

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	ReadyTimeout time.Duration
	RetryCount   int
}

// Detection is one face the detector found in an image.
type Detection struct {
	Embedding  []float32  `json:"embedding"`
	Confidence float32    `json:"confidence"`
	Box        [4]float32 `json:"box"`
}

// Client talks to the external face detection/embedding service. Model
// loading on the detector side is slow, so readiness is an explicit,
// once-per-process initialization step: EnsureReady blocks until the
// service reports its model loaded, and every later call reuses that
// result.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	readyTimeout time.Duration
	pollInterval time.Duration
	retryCount   int

	readyOnce sync.Once
	readyErr  error
	ready     atomic.Bool
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 60 * time.Second
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		baseURL:      cfg.BaseURL,
		readyTimeout: cfg.ReadyTimeout,
		pollInterval: 2 * time.Second,
		retryCount:   cfg.RetryCount,
	}
}

// Enabled reports whether a detector service is configured at all.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Ready reports the readiness state without blocking.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// EnsureReady waits for the detector to report a loaded model. It
// blocks at most once per process: concurrent and repeated callers get
// the first attempt's result. A disabled client is trivially ready to
// do nothing.
func (c *Client) EnsureReady(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	c.readyOnce.Do(func() {
		c.readyErr = c.waitReady(ctx)
		if c.readyErr == nil {
			c.ready.Store(true)
		}
	})
	return c.readyErr
}

func (c *Client) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	var lastErr error
	for {
		lastErr = c.Health(ctx)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("detector not ready after %s: %w", c.readyTimeout, lastErr)
		case <-time.After(c.pollInterval):
		}
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Health probes the detector once. It reports ErrNotReady while the
// model is still loading.
func (c *Client) Health(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	var resp healthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if !resp.ModelLoaded {
		return ErrNotReady
	}
	return nil
}

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Faces []Detection `json:"faces"`
}

// Detect sends an image and returns every face found, in the
// detector's output order. The client must have passed EnsureReady
// first; detection never implicitly triggers model loading.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if !c.ready.Load() {
		return nil, ErrNotReady
	}

	req := detectRequest{Image: base64.StdEncoding.EncodeToString(image)}
	var resp detectResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, "/detect", req, &resp); err != nil {
		return nil, err
	}
	return resp.Faces, nil
}

const maxBackoff = 30 * time.Second

func backoffDelay(attempt int) time.Duration {
	d := time.Second << uint(attempt-1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("detector returned status %d: %s", e.code, e.body)
}

func (c *Client) doRequestWithRetry(ctx context.Context, method, path string, body, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
		}

		lastErr = c.doRequest(ctx, method, path, body, result)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// 4xx means the request itself is wrong; retrying won't help.
		var se *statusError
		if errors.As(lastErr, &se) && se.code < 500 {
			return lastErr
		}
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
