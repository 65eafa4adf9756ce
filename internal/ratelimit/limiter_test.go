package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 3})
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "10.0.0.1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should be allowed (%v)", i, err)
		}
	}
	d, _ := limiter.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Fatal("4th request should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	if d, _ := limiter.Allow(ctx, "10.0.0.2"); !d.Allowed {
		t.Fatal("different client should have its own bucket")
	}
	if d, _ := limiter.Allow(ctx, ""); !d.Allowed {
		t.Fatal("requests without a key are not limited")
	}

	if err := limiter.Reset(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d, _ := limiter.Allow(ctx, "10.0.0.1"); !d.Allowed {
		t.Fatal("expected allowance after reset")
	}
}

func TestLimiter_Defaults(t *testing.T) {
	limiter := NewLimiter(Config{})
	defer limiter.Close()
	def := DefaultConfig()
	if limiter.capacity != def.BurstSize || limiter.refillRate != def.RequestsPerSecond {
		t.Fatalf("defaults not applied: %+v", limiter)
	}
	if got := limiter.Remaining(context.Background(), "fresh"); got != def.BurstSize {
		t.Fatalf("expected full bucket for unseen key, got %v", got)
	}
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, float64, float64) (bool, float64, error) {
	return false, 0, errors.New("store down")
}
func (failingStore) Remaining(context.Context, string, float64, float64) (float64, error) {
	return 0, errors.New("store down")
}
func (failingStore) Reset(context.Context, string) error { return nil }
func (failingStore) Close() error                        { return nil }

func TestLimiter_FailsOpen(t *testing.T) {
	limiter := NewLimiter(Config{Store: failingStore{}})
	d, err := limiter.Allow(context.Background(), "k")
	if err == nil {
		t.Fatal("expected store error to be reported")
	}
	if !d.Allowed {
		t.Fatal("store failure must not reject requests")
	}
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStoreWithCleanup(0)
	defer store.Close()
	ctx := context.Background()

	_, _, _ = store.Allow(ctx, "idle", 5, 1000)
	_, _, _ = store.Allow(ctx, "busy", 5, 0.0001)
	time.Sleep(10 * time.Millisecond)
	store.cleanup()

	if store.Len() != 1 {
		t.Fatalf("expected only the drained bucket to survive, got %d", store.Len())
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.01, BurstSize: 2})
	defer limiter.Close()

	var limited []string
	handler := NewMiddleware(limiter, true, nil).
		OnLimit(func(key string) { limited = append(limited, key) }).
		Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/report", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do(); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] != "rate limit exceeded" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("missing rate limit headers: %v", rec.Header())
	}
	if len(limited) != 1 || limited[0] != "192.0.2.7" {
		t.Fatalf("unexpected OnLimit calls %v", limited)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := NewMiddleware(nil, true, nil).Wrap(next); got == nil {
		t.Fatal("expected passthrough handler")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis rate limit tests")
	}
	ctx := context.Background()
	store, err := DialRedis(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer store.Close()

	key := "test-" + time.Now().Format("150405.000000")
	defer store.Reset(ctx, key)

	for i := 0; i < 2; i++ {
		allowed, _, err := store.Allow(ctx, key, 2, 0.001)
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed (%v)", i, err)
		}
	}
	allowed, remaining, err := store.Allow(ctx, key, 2, 0.001)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed || remaining >= 1 {
		t.Fatalf("expected denial, got allowed=%v remaining=%v", allowed, remaining)
	}
}
