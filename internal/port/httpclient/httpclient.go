// Package httpclient defines the outbound HTTP port: GET/POST with headers,
// body, and a timeout, returning status and body bytes.
package httpclient

import "context"

// Response is the result of an outbound HTTP call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Client is the HTTP port consumed by the healthcheck engine, the polling
// engine, and the OAuth token-exchange path of the strategy registry.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (*Response, error)
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error)
}
