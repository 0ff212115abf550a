// Package httpclient implements the outbound HTTP port over net/http, with an
// optional circuit breaker so a flaky remote (a polling target or a
// connector's healthcheck URL) doesn't stall every engine tick behind it.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/personacore/core/internal/port/httpclient"
	"github.com/personacore/core/internal/resilience"
)

// Client is the real httpclient.Client implementation.
type Client struct {
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New returns a Client with the given per-call timeout.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*httpclient.Response, error) {
	return c.doRequest(ctx, http.MethodGet, url, headers, nil)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*httpclient.Response, error) {
	return c.doRequest(ctx, http.MethodPost, url, headers, body)
}

func (c *Client) doRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*httpclient.Response, error) {
	var result *httpclient.Response
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		respHeaders := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}
		result = &httpclient.Response{
			StatusCode: resp.StatusCode,
			Body:       data,
			Headers:    respHeaders,
		}
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
