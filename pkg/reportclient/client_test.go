package reportclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/httpserver"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger/sqlite"
	"github.com/tokligence/tokligence-report-proxy/internal/testutil"
)

var helloWorldChunks = []string{
	`[{"candidates":[{"content":{"parts":[{"text":"Hel`,
	`lo"}]}}]},`,
	`{"candidates":[{"content":{"parts":[{"text":" World"}]}}]}]`,
}

func newReportd(t *testing.T, up *testutil.Upstream) *testutil.IPv4Server {
	t.Helper()
	adapter, err := gemini.New(gemini.Config{APIKey: "k", BaseURL: up.URL, HTTPClient: up.Client()})
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	srv := httpserver.New(httpserver.Options{Upstream: adapter, Ledger: store})
	return testutil.NewIPv4Server(t, srv.Router())
}

func TestReportStreamAndUsage(t *testing.T) {
	up := testutil.NewUpstream(t, helloWorldChunks...)
	reportd := newReportd(t, up)

	c, err := New(reportd.URL, reportd.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	text, err := c.Report(ctx, []byte(`{"contents":[]}`))
	if err != nil || text != "Hello World" {
		t.Fatalf("Report = %q, %v", text, err)
	}

	var deltas strings.Builder
	text, err = c.Stream(ctx, []byte(`{"contents":[]}`), func(delta string) error {
		deltas.WriteString(delta)
		return nil
	})
	if err != nil || text != "Hello World" || deltas.String() != "Hello World" {
		t.Fatalf("Stream = %q (deltas %q), %v", text, deltas.String(), err)
	}

	// entries are recorded once the handler returns, after the body is sent
	var summary Summary
	deadline := time.Now().Add(2 * time.Second)
	for {
		summary, err = c.UsageSummary(ctx, time.Hour)
		if err != nil {
			t.Fatalf("UsageSummary: %v", err)
		}
		if summary.Requests == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if summary.Requests != 2 || summary.Succeeded != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	entries, err := c.RecentUsage(ctx, 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("RecentUsage = %v, %v", entries, err)
	}
}

func TestReportUpstreamError(t *testing.T) {
	up := testutil.NewUpstream(t)
	up.Fail(http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
	reportd := newReportd(t, up)

	c, _ := New(reportd.URL, reportd.Client())
	_, err := c.Report(context.Background(), []byte(`{}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Message != "quota exceeded" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	up := testutil.NewUpstream(t, `[]`)
	reportd := newReportd(t, up)

	c, _ := New(reportd.URL, reportd.Client())
	_, err := c.Stream(context.Background(), []byte(`{}`), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "failed to extract report content" {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

type stubHTTPClient struct {
	handler func(*http.Request) (*http.Response, error)
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return s.handler(req)
}

func TestStreamWithoutDone(t *testing.T) {
	stub := &stubHTTPClient{handler: func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/prefix/api/report/stream" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		body := io.NopCloser(strings.NewReader("event: delta\ndata: partial\n\n"))
		return &http.Response{StatusCode: http.StatusOK, Body: body, Header: make(http.Header)}, nil
	}}
	c, err := New("http://example.com/prefix/", stub)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Stream(context.Background(), []byte(`{}`), nil); !errors.Is(err, ErrNoDone) {
		t.Fatalf("expected ErrNoDone, got %v", err)
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("localhost", nil); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
}
