package serverless

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/httpserver"
	"github.com/tokligence/tokligence-report-proxy/internal/testutil"
)

func event(method, path, body string) events.APIGatewayV2HTTPRequest {
	ev := events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Headers: map[string]string{"content-type": "application/json"},
		Body:    body,
	}
	ev.RequestContext.HTTP.Method = method
	ev.RequestContext.HTTP.SourceIP = "198.51.100.4"
	ev.RequestContext.RequestID = "req-1"
	return ev
}

func TestNewRequest(t *testing.T) {
	ev := event(http.MethodPost, "/api/report", "")
	ev.Body = base64.StdEncoding.EncodeToString([]byte(`{"a":1}`))
	ev.IsBase64Encoded = true
	ev.RawQueryString = "x=1"
	ev.Cookies = []string{"a=1", "b=2"}

	req, err := NewRequest(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/report", req.URL.Path)
	assert.Equal(t, "1", req.URL.Query().Get("x"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "a=1; b=2", req.Header.Get("Cookie"))
	assert.Equal(t, "198.51.100.4", req.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "req-1", req.Header.Get("X-Request-Id"))
	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, `{"a":1}`, string(body))
}

func TestNewRequestBadBase64(t *testing.T) {
	ev := event(http.MethodPost, "/api/report", "***")
	ev.IsBase64Encoded = true
	_, err := NewRequest(context.Background(), ev)
	require.Error(t, err)
}

func TestHandleReport(t *testing.T) {
	up := testutil.NewUpstream(t,
		`[{"candidates":[{"content":{"parts":[{"text":"Hel`,
		`lo"}]}}]},`,
		`{"candidates":[{"content":{"parts":[{"text":" World"}]}}]}]`,
	)
	adapter, err := gemini.New(gemini.Config{APIKey: "k", BaseURL: up.URL, HTTPClient: up.Client()})
	require.NoError(t, err)
	h := NewHandler(httpserver.New(httpserver.Options{Upstream: adapter}).Router())

	resp, err := h.Handle(context.Background(), event(http.MethodPost, "/api/report", `{"contents":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, resp.IsBase64Encoded)
	assert.JSONEq(t, `{"report":"Hello World"}`, resp.Body)
	assert.Contains(t, resp.Headers["Content-Type"], "application/json")

	resp, err = h.Handle(context.Background(), event(http.MethodGet, "/api/report", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Method Not Allowed"}`, resp.Body)
}

func TestRecorderBinaryBody(t *testing.T) {
	h := NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "s", Value: "1"})
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte{0xff, 0xfe})
	}))
	resp, err := h.Handle(context.Background(), event(http.MethodGet, "/", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, resp.IsBase64Encoded)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe}), resp.Body)
	assert.Equal(t, []string{"s=1"}, resp.Cookies)
}
