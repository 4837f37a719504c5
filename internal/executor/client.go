package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// HTTPError is returned for non-2xx executor responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("executor returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("executor returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to an Action Executor over HTTP. It is stateless apart from
// its connection pool and may be shared by concurrent sessions.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	cfg     config.ExecutorConfig
	logger  *zap.Logger
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg config.ExecutorConfig, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid executor base url %q", cfg.BaseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{},
		cfg:     cfg,
		logger:  logger.Named("executor_client"),
	}, nil
}

// BaseURL returns the executor address.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) Start(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.postJSON(ctx, "/start", nil, &out, c.cfg.ActionTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stop(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.postJSON(ctx, "/stop", nil, &out, c.cfg.ActionTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// AutoStart writes the run configuration picked up by the game mod.
func (c *Client) AutoStart(ctx context.Context, req AutoStartRequest) error {
	return c.postJSON(ctx, "/auto_start", req, nil, c.cfg.ActionTimeout)
}

// Press sends one or more buttons. The server pauses between buttons, so the
// timeout grows with the sequence length.
func (c *Client) Press(ctx context.Context, buttons []Button, duration float64) (*StatusResponse, error) {
	if len(buttons) == 0 {
		return nil, fmt.Errorf("no buttons specified")
	}
	if duration <= 0 {
		duration = c.cfg.PressDuration
	}
	req := PressRequest{Buttons: JoinButtons(buttons), Duration: duration, StepID: uuid.NewString()}
	timeout := c.cfg.ActionTimeout + time.Duration(len(buttons))*(time.Second+seconds(duration))

	var out StatusResponse
	if err := c.postJSON(ctx, "/actions/press", req, &out, timeout); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Click(ctx context.Context, req ClickRequest) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.postJSON(ctx, "/pointer/click", req, &out, c.cfg.ActionTimeout); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Move(ctx context.Context, req MoveRequest) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.postJSON(ctx, "/pointer/move", req, &out, c.cfg.ActionTimeout+seconds(req.Duration)); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Drag(ctx context.Context, req DragRequest) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.postJSON(ctx, "/pointer/drag", req, &out, c.cfg.DragTimeout+seconds(req.Duration)); err != nil {
		return nil, err
	}
	return &out, nil
}

// Screenshot fetches the current screen as PNG, optionally with the pointer
// marker drawn on it.
func (c *Client) Screenshot(ctx context.Context, withCursor bool) ([]byte, error) {
	path := "/screen"
	if withCursor {
		path += "?cursor=1"
	}
	body, err := c.get(ctx, path, c.cfg.ScreenshotTimeout)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(body, pngSignature) {
		return nil, fmt.Errorf("executor returned a malformed screenshot (%d bytes)", len(body))
	}
	return body, nil
}

func (c *Client) PointerPosition(ctx context.Context) (*PointerPosition, error) {
	body, err := c.get(ctx, "/pointer/position", c.cfg.ActionTimeout)
	if err != nil {
		return nil, err
	}
	var out PointerPosition
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode pointer position: %w", err)
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	body, err := c.get(ctx, "/health", c.cfg.ScreenshotTimeout)
	if err != nil {
		return nil, err
	}
	var out HealthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &out, nil
}

// ModStatus returns the status document written by the game mod.
func (c *Client) ModStatus(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.get(ctx, "/mod_status", c.cfg.ActionTimeout)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode mod status: %w", err)
	}
	return out, nil
}

// get performs an idempotent GET, retrying transport errors and 5xx answers.
func (c *Client) get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	var body []byte
	operation := func() error {
		var err error
		body, err = c.do(ctx, http.MethodGet, path, nil, timeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	retries := c.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Debug("Executor GET failed, retrying", zap.String("path", path), zap.Error(err), zap.Duration("backoff", wait))
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// postJSON is never retried: presses and clicks are not idempotent.
func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}, timeout time.Duration) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
	}
	body, err := c.do(ctx, http.MethodPost, path, payload, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts the message from a status envelope or a
// {"detail": ...} body, falling back to the raw text.
func errorMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Detail != "" {
			return env.Detail
		}
	}
	return strings.TrimSpace(string(body))
}
