package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/testutil"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{APIKey: "  "}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewDefaults(t *testing.T) {
	a, err := New(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Model() != DefaultModel {
		t.Fatalf("Model() = %q, want %q", a.Model(), DefaultModel)
	}
	if a.baseURL != DefaultBaseURL {
		t.Fatalf("baseURL = %q", a.baseURL)
	}
	if a.httpClient.Timeout != 120*time.Second {
		t.Fatalf("unexpected timeout %v", a.httpClient.Timeout)
	}

	a, err = New(Config{APIKey: "k", Model: "models/gemini-2.0-flash", BaseURL: "http://host/"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Model() != "gemini-2.0-flash" || a.baseURL != "http://host" {
		t.Fatalf("unexpected normalisation model=%q base=%q", a.Model(), a.baseURL)
	}
}

func TestStreamGenerateContent_Success(t *testing.T) {
	upstream := testutil.NewUpstream(t, `[{"candidates":[`, `{"content":{"parts":[{"text":"hi"}]}}]}]`)

	a, err := New(Config{APIKey: "secret", BaseURL: upstream.URL, Model: "gemini-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	body := []byte(`{"contents":[{"parts":[{"text":"write a report"}]}]}`)
	stream, err := a.StreamGenerateContent(context.Background(), body)
	if err != nil {
		t.Fatalf("StreamGenerateContent() error = %v", err)
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(raw) != `[{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}]` {
		t.Fatalf("unexpected body %s", raw)
	}
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", stream.StatusCode)
	}

	reqs := upstream.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(reqs))
	}
	got := reqs[0]
	if got.Method != http.MethodPost {
		t.Fatalf("method = %s", got.Method)
	}
	if got.Path != "/v1beta/models/gemini-test:streamGenerateContent" {
		t.Fatalf("path = %s", got.Path)
	}
	if got.Key != "secret" {
		t.Fatalf("key = %q", got.Key)
	}
	if string(got.Body) != string(body) {
		t.Fatalf("body not forwarded verbatim: %s", got.Body)
	}
}

func TestStreamGenerateContent_UpstreamError(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	upstream.Fail(http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource exhausted","status":"RESOURCE_EXHAUSTED"}}`)

	a, err := New(Config{APIKey: "k", BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = a.StreamGenerateContent(context.Background(), []byte(`{}`))

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *UpstreamError, got %T %v", err, err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", upErr.StatusCode)
	}
	if !strings.Contains(string(upErr.Body), "RESOURCE_EXHAUSTED") {
		t.Fatalf("raw body not kept: %s", upErr.Body)
	}
	if !strings.Contains(upErr.Error(), "Resource exhausted") {
		t.Fatalf("unexpected message %q", upErr.Error())
	}
}

func TestStreamGenerateContent_PlainTextError(t *testing.T) {
	upstream := testutil.NewUpstream(t)
	upstream.Fail(http.StatusBadGateway, "bad gateway")

	a, _ := New(Config{APIKey: "k", BaseURL: upstream.URL})
	_, err := a.StreamGenerateContent(context.Background(), []byte(`{}`))

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if upErr.Error() != "gemini: stream http 502: bad gateway" {
		t.Fatalf("unexpected message %q", upErr.Error())
	}
}

func TestStreamGenerateContent_TransportErrorHidesKey(t *testing.T) {
	a, err := New(Config{APIKey: "very-secret", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = a.StreamGenerateContent(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected transport error")
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		t.Fatalf("transport failure must not be an upstream error")
	}
	if strings.Contains(err.Error(), "very-secret") {
		t.Fatalf("api key leaked in error: %v", err)
	}
}
