// Package http holds the outbound HTTP client used to talk to the archive's REST API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"dicom-router/internal/common/errors"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	Username            string
	Password            string
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the overall client timeout. Zero leaves deadlines to the request context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithBasicAuth makes every request carry the given credentials
func WithBasicAuth(username, password string) ClientOption {
	return func(c *ClientConfig) {
		c.Username = username
		c.Password = password
	}
}

// Client performs JSON requests and classifies failures into AppError types
type Client struct {
	client   *http.Client
	username string
	password string
}

// NewClient creates a new client with the given options
func NewClient(opts ...ClientOption) *Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     cfg.IdleConnTimeout,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
	}
}

// Response is the raw outcome of a request that reached the server
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// DoJSON sends body encoded as JSON (when non-nil) and decodes a 2xx response into out (when non-nil).
//
// Transport failures are connection errors, context deadlines are timeout errors,
// retryable statuses (5xx, 408, 429) are internal errors and any other non-2xx
// status is a validation error. The response is returned whenever the server answered.
func (c *Client) DoJSON(ctx context.Context, method, url string, body, out interface{}) (*Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.InternalError("failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.InternalError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			timeout := errors.TimeoutError(fmt.Sprintf("%s %s", method, url))
			timeout.Cause = ctx.Err()
			return nil, timeout
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			timeout := errors.TimeoutError(fmt.Sprintf("%s %s", method, url))
			timeout.Cause = err
			return nil, timeout
		}
		return nil, errors.ConnectionError("request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionError("failed to read response body", err)
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Body:       raw,
		Duration:   time.Since(start),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d from %s %s: %s", resp.StatusCode, method, url, truncate(raw, 256))
		if isRetryableStatus(resp.StatusCode) {
			return response, errors.InternalError(msg, nil).WithCode(fmt.Sprint(resp.StatusCode))
		}
		return response, errors.ValidationError(msg).WithCode(fmt.Sprint(resp.StatusCode))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return response, errors.InternalError("failed to decode response body", err)
		}
	}

	return response, nil
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	switch errors.GetType(err) {
	case errors.ErrTypeConnection, errors.ErrTypeInternal, errors.ErrTypeTimeout:
		return true
	default:
		return false
	}
}

func isRetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
