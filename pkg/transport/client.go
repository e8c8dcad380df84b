// pkg/transport/client.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Error wraps network, timeout and malformed-response failures. HTTP
// error statuses are not Errors; callers get the Response and decide.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Response is a decoded-on-demand HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Decode unmarshals the response body into out. A body that is not
// valid JSON surfaces as a *Error.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &Error{Op: "decode", Err: err}
	}
	return nil
}

// ErrorCode extracts the remote error code from an {"error":{"code":N}}
// body. Returns 0 when the body carries no such code.
func (r *Response) ErrorCode() int {
	var body struct {
		Error struct {
			Code int    `json:"code"`
			Text string `json:"text"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return 0
	}
	return body.Error.Code
}

// Client is a blocking JSON client for one API endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

func New(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	rt := http.DefaultTransport
	if tracingEnabled() {
		rt = otelhttp.NewTransport(rt)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: rt},
		log:     log,
	}
}

// BaseURL returns the endpoint this client talks to. Used as part of
// token cache keys so sessions against different endpoints never mix.
func (c *Client) BaseURL() string { return c.baseURL }

// PostJSON sends body as JSON to path. auth, when non-empty, is sent as
// a bearer Authorization header.
func (c *Client) PostJSON(ctx context.Context, path string, body any, auth string) (*Response, error) {
	bb, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bb))
	if err != nil {
		return nil, &Error{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, auth)
}

// GetJSON issues a GET against path.
func (c *Client) GetJSON(ctx context.Context, path string, auth string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &Error{Op: "request", Err: err}
	}
	return c.do(req, auth)
}

func (c *Client) do(req *http.Request, auth string) (*Response, error) {
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "read body", Err: err}
	}
	if c.log != nil {
		c.log.Debugw("api call", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}
