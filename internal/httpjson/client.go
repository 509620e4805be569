// Package httpjson sends JSON requests to external model and index services
// and retries transient failures with exponential backoff.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxRetryAfter = 5 * time.Second

// StatusError is a non-2xx response
type StatusError struct {
	Service    string
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Service, e.Code, e.Body)
}

// Temporary reports whether the request may succeed if repeated
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client is a JSON HTTP client for one service
type Client struct {
	Service    string
	HTTP       *http.Client
	Header     http.Header
	MaxRetries uint64
	// InitialInterval is the first backoff delay; zero uses the backoff default
	InitialInterval time.Duration
}

// New creates a client with three retries
func New(service string, timeout time.Duration) *Client {
	return &Client{
		Service:    service,
		HTTP:       &http.Client{Timeout: timeout},
		Header:     http.Header{},
		MaxRetries: 3,
	}
}

// Do sends in as the JSON body (nil for none) and decodes the response into
// out (nil to discard). Network errors, 429 and 5xx responses are retried.
func (c *Client) Do(ctx context.Context, method, url string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	op := func() error {
		err := c.once(ctx, method, url, payload, out)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) {
			if !se.Temporary() {
				return backoff.Permanent(err)
			}
			if se.RetryAfter > 0 {
				wait(ctx, se.RetryAfter)
			}
			return err
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		eb.InitialInterval = c.InitialInterval
	}
	eb.MaxInterval = maxRetryAfter
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.MaxRetries), ctx)
	return backoff.Retry(op, b)
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{
			Service:    c.Service,
			Code:       resp.StatusCode,
			Body:       string(bytes.TrimSpace(b)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
