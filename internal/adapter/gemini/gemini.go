package gemini

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
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash-preview-05-20"

	// maxErrorBody caps how much of a failed upstream response is kept.
	maxErrorBody = 1 << 20
)

// ErrMissingAPIKey is returned by New when no credential is configured.
var ErrMissingAPIKey = errors.New("gemini: api key required")

// Adapter opens streamGenerateContent calls against the Gemini API.
// The request body is forwarded verbatim; nothing is translated.
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	Model          string // optional, defaults to DefaultModel
	RequestTimeout time.Duration
	// HTTPClient overrides the client built from RequestTimeout.
	HTTPClient *http.Client
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	model = strings.TrimPrefix(model, "models/")

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout == 0 {
			timeout = 120 * time.Second // long reports take a while to generate
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
	}, nil
}

// Model returns the model every request is sent to.
func (a *Adapter) Model() string { return a.model }

// Stream is an open streamGenerateContent response. The caller must Close it.
type Stream struct {
	Body        io.ReadCloser
	StatusCode  int
	ContentType string
}

// Read implements io.Reader over the response body.
func (s *Stream) Read(p []byte) (int, error) { return s.Body.Read(p) }

// Close releases the underlying connection.
func (s *Stream) Close() error { return s.Body.Close() }

// UpstreamError is returned when Gemini answers with a non-2xx status.
// Body holds the raw response so callers can relay it unchanged.
type UpstreamError struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

func (e *UpstreamError) Error() string {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("gemini: %s (code=%d, status=%s)", errResp.Error.Message, errResp.Error.Code, errResp.Error.Status)
	}
	return fmt.Sprintf("gemini: stream http %d: %s", e.StatusCode, preview(e.Body, 256))
}

// StreamGenerateContent posts reqBody to the streamGenerateContent endpoint
// and returns the open response. Without alt=sse Gemini answers with a single
// JSON array written incrementally.
func (a *Adapter) StreamGenerateContent(ctx context.Context, reqBody []byte) (*Stream, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s",
		a.baseURL, url.PathEscape(a.model), url.QueryEscape(a.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send stream request: %w", redactKey(err, a.apiKey))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{
			StatusCode:  resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
		}
	}

	return &Stream{
		Body:        resp.Body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// redactKey strips the credential from transport errors, which embed the
// request URL.
func redactKey(err error, key string) error {
	var urlErr *url.Error
	if key == "" || !errors.As(err, &urlErr) {
		return err
	}
	redacted := *urlErr
	redacted.URL = strings.ReplaceAll(redacted.URL, url.QueryEscape(key), "REDACTED")
	return &redacted
}

func preview(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
