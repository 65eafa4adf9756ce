package testutil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

// IPv4Server is an HTTP server bound to the IPv4 loopback interface.
type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
}

// NewIPv4Server starts handler on 127.0.0.1 and stops it when the test ends.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the underlying server and frees resources. It is safe to
// call more than once.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
	s.transport.CloseIdleConnections()
}

// RecordedRequest is one call received by an Upstream.
type RecordedRequest struct {
	Method string
	Path   string
	Key    string
	Body   []byte
}

// Upstream is a scripted stand-in for the Gemini streamGenerateContent
// endpoint. By default it writes Chunks one by one, flushing after each.
type Upstream struct {
	*IPv4Server

	mu         sync.Mutex
	chunks     []string
	status     int
	body       string
	chunkDelay time.Duration
	requests   []RecordedRequest
}

// NewUpstream starts an Upstream that streams chunks with status 200.
func NewUpstream(t *testing.T, chunks ...string) *Upstream {
	t.Helper()
	u := &Upstream{chunks: chunks, status: http.StatusOK}
	u.IPv4Server = NewIPv4Server(t, http.HandlerFunc(u.serve))
	return u
}

// Fail makes every following call answer with status and body.
func (u *Upstream) Fail(status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
	u.body = body
}

// SetChunkDelay pauses between chunks so tests can observe incremental output.
func (u *Upstream) SetChunkDelay(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chunkDelay = d
}

// Requests returns a copy of the calls received so far.
func (u *Upstream) Requests() []RecordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]RecordedRequest, len(u.requests))
	copy(out, u.requests)
	return out
}

// Calls reports how many requests reached the upstream.
func (u *Upstream) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.requests)
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	u.requests = append(u.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Key:    r.URL.Query().Get("key"),
		Body:   body,
	})
	status, errBody, chunks, delay := u.status, u.body, u.chunks, u.chunkDelay
	u.mu.Unlock()

	if status < 200 || status > 299 {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, errBody)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	flusher, _ := w.(http.Flusher)
	for _, chunk := range chunks {
		if _, err := io.WriteString(w, chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
	}
}
