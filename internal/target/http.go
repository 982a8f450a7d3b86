package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultHTTPTimeout caps a single remote operation when the caller's context
// carries no deadline of its own.
const defaultHTTPTimeout = 10 * time.Second

// HTTPClient drives a remote target over its HTTP surface (the targetsim
// server or any compatible implementation). Each operation is one request;
// the shared-state hazards live on the server side, exactly as with the
// in-process machine.
type HTTPClient struct {
	base string
	hc   *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client for the target at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 200
	t.MaxConnsPerHost = 200
	t.MaxIdleConnsPerHost = 200

	return &HTTPClient{
		base: baseURL,
		hc: &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: t,
		},
	}
}

// HTTPFactory returns a target.Factory for remote targets. Settings.URL is
// required.
func HTTPFactory() Factory {
	return func(s Settings) (Client, error) {
		if s.URL == "" {
			return nil, fmt.Errorf("remote target requires a URL")
		}
		return NewHTTPClient(s.URL), nil
	}
}

// tokenResponse is the JSON body every operation endpoint returns.
type tokenResponse struct {
	Token string `json:"token"`
}

type counterResponse struct {
	Counter int `json:"counter"`
}

func (c *HTTPClient) Setup(ctx context.Context, dose, x, y int) (string, error) {
	return c.opToken(ctx, "/api/setup", map[string]int{"dose": dose, "x": x, "y": y})
}

func (c *HTTPClient) ChangeMode(ctx context.Context, mode Mode) (string, error) {
	return c.opToken(ctx, "/api/mode", map[string]string{"mode": string(mode)})
}

func (c *HTTPClient) Edit(ctx context.Context, field string, value int) (string, error) {
	return c.opToken(ctx, "/api/edit", map[string]any{"field": field, "value": value})
}

func (c *HTTPClient) Fire(ctx context.Context) (string, error) {
	return c.opToken(ctx, "/api/fire", struct{}{})
}

func (c *HTTPClient) CounterValue(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/counter", nil)
	if err != nil {
		return 0, fmt.Errorf("build counter request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("read counter: unexpected status %d", resp.StatusCode)
	}

	var body counterResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode counter: %w", err)
	}
	return body.Counter, nil
}

func (c *HTTPClient) Reset(ctx context.Context) error {
	_, err := c.opToken(ctx, "/api/reset", struct{}{})
	return err
}

// opToken POSTs a JSON payload and returns the outcome token. Non-2xx
// statuses are transport errors, not outcomes: the token channel is reserved
// for what the target reports about itself.
func (c *HTTPClient) opToken(ctx context.Context, path string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", path, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("call %s: unexpected status %d", path, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode %s response: %w", path, err)
	}
	return body.Token, nil
}

// drain empties and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
