// Package reportclient is a Go client for a running reportd.
package reportclient

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

	"github.com/tmaxmax/go-sse"

	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Summary, Entry and Outcome mirror the usage ledger payloads.
type (
	Summary = ledger.Summary
	Entry   = ledger.Entry
	Outcome = ledger.Outcome
)

// ErrNoDone is returned when an event stream ends without a done event.
var ErrNoDone = errors.New("reportclient: stream ended without a done event")

// APIError is a non-2xx answer. Body is kept raw because upstream failures
// are relayed unchanged by reportd.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("reportd error: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("reportd error: status %d", e.StatusCode)
}

// Client talks to the reportd HTTP API.
type Client struct {
	baseURL    *url.URL
	httpClient HTTPClient
}

// New constructs a client for baseURL. Reports can take minutes, so the
// default client has no overall timeout; bound calls with ctx.
func New(baseURL string, httpClient HTTPClient) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 2 * time.Minute,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Report posts payload to /api/report and returns the aggregated text.
func (c *Client) Report(ctx context.Context, payload []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/report", payload, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Report string `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode report: %w", err)
	}
	return out.Report, nil
}

// Stream posts payload to /api/report/stream, calling fn with every text
// delta, and returns the final report from the done event.
func (c *Client) Stream(ctx context.Context, payload []byte, fn func(delta string) error) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/report/stream", payload, "text/event-stream")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			return "", fmt.Errorf("read events: %w", err)
		}
		switch ev.Type {
		case "delta":
			if fn != nil {
				if err := fn(ev.Data); err != nil {
					return "", err
				}
			}
		case "done":
			var done struct {
				Report string `json:"report"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &done); err != nil {
				return "", fmt.Errorf("decode done event: %w", err)
			}
			return done.Report, nil
		case "error":
			return "", &APIError{StatusCode: http.StatusOK, Message: errorMessage([]byte(ev.Data)), Body: []byte(ev.Data)}
		}
	}
	return "", ErrNoDone
}

// UsageSummary fetches /api/v1/usage/summary. A zero since covers the whole
// ledger.
func (c *Client) UsageSummary(ctx context.Context, since time.Duration) (Summary, error) {
	path := "/api/v1/usage/summary"
	if since > 0 {
		path += "?since=" + url.QueryEscape(since.String())
	}
	var out Summary
	if err := c.getJSON(ctx, path, &out); err != nil {
		return Summary{}, err
	}
	return out, nil
}

// RecentUsage fetches the newest ledger entries.
func (c *Client) RecentUsage(ctx context.Context, limit int) ([]Entry, error) {
	path := "/api/v1/usage/recent"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// do sends the request and converts non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, accept string) (*http.Response, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL.JoinPath(rel.Path)
	endpoint.RawQuery = rel.RawQuery

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data), Body: data}
	}
	return resp, nil
}

// errorMessage reads {"error":"..."} as written by reportd, or
// {"error":{"message":"..."}} as relayed from Gemini.
func errorMessage(data []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && strings.TrimSpace(flat.Error) != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &nested); err == nil {
		return nested.Error.Message
	}
	return ""
}
