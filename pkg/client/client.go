// Package client is the Go SDK of the relay HTTP API, used by relay-agent
// and relayctl. Responses are mapped back onto the util error sentinels.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/domrelay/domrelay/internal/pkg/util"
	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
	"github.com/domrelay/domrelay/pkg/log"
)

const defaultTimeout = 5 * time.Second

// DefaultBackoff retries transport failures four times within about three seconds.
var DefaultBackoff = wait.Backoff{
	Duration: 200 * time.Millisecond,
	Factor:   2,
	Jitter:   0.2,
	Steps:    4,
	Cap:      2 * time.Second,
}

// TokenSource supplies the bearer token of each request. It is consulted
// per request so rotated credentials take effect immediately.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that never changes.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
	backoff wait.Backoff
	logger  log.Logger
}

type Option func(*Client)

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

func WithToken(token string) Option { return WithTokenSource(StaticToken(token)) }

// WithTimeout bounds each attempt of a call.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithBackoff(b wait.Backoff) Option { return func(c *Client) { c.backoff = b } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l log.Logger) Option { return func(c *Client) { c.logger = l } }

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("server url %q must be absolute", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		tokens:  StaticToken(""),
		timeout: defaultTimeout,
		backoff: DefaultBackoff,
		logger:  log.WithName("client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// APIError is a non-2xx response. It unwraps to the matching util sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s): %s", e.kind, e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

func kindFor(status int, code string) error {
	switch {
	case status == http.StatusBadRequest:
		return util.ErrValidation
	case status == http.StatusNotFound:
		return util.ErrNotFound
	case status == http.StatusConflict && code == v1.CodeClaimConflict:
		return util.ErrClaimConflict
	case status == http.StatusConflict:
		return util.ErrInvalidState
	case status == http.StatusUnauthorized:
		return util.ErrUnauthenticated
	case status == http.StatusServiceUnavailable && code == v1.CodeUnavailable:
		return util.ErrUnavailable
	}
	return util.ErrTransport
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 && apiErr.kind == util.ErrTransport
	}
	return errors.Is(err, util.ErrTransport) || errors.Is(err, util.ErrTimeout)
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	out    any
	// retry is false for calls that are not safe to repeat.
	retry bool
}

// do runs req with bounded exponential backoff on transport failures.
// It returns the HTTP status of the last attempt.
func (c *Client) do(ctx context.Context, req request) (int, error) {
	var payload []byte
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	if !req.retry {
		return c.attempt(ctx, req, payload)
	}

	var (
		status  int
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(ctx, c.backoff, func(ctx context.Context) (bool, error) {
		status, lastErr = c.attempt(ctx, req, payload)
		if lastErr == nil {
			return true, nil
		}
		if !retryable(lastErr) {
			return false, lastErr
		}
		c.logger.Debug("Retrying request", "method", req.method, "path", req.path, "err", lastErr)
		return false, nil
	})
	if err != nil && lastErr != nil {
		return status, lastErr
	}
	return status, err
}

func (c *Client) attempt(ctx context.Context, req request, payload []byte) (int, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path += req.path
	u.RawQuery = req.query.Encode()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	hreq, err := http.NewRequestWithContext(actx, req.method, u.String(), body)
	if err != nil {
		return 0, err
	}
	hreq.Header.Set("Accept", "application/json")
	if payload != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %s %s after %s", util.ErrTimeout, req.method, req.path, c.timeout)
		}
		return 0, fmt.Errorf("%w: %v", util.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e v1.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil {
			e.Message = strings.TrimSpace(string(data))
		}
		return resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Code:       e.Code,
			Message:    e.Message,
			kind:       kindFor(resp.StatusCode, e.Code),
		}
	}

	if req.out != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(req.out); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return resp.StatusCode, fmt.Errorf("%w: reading %s", util.ErrTimeout, req.path)
			}
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", util.ErrTransport, err)
		}
	}
	return resp.StatusCode, nil
}
