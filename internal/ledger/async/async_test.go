package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (m *memoryStore) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) Summary(context.Context, time.Time) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledger.Summary{Requests: int64(len(m.entries))}, nil
}

func (m *memoryStore) ListRecent(context.Context, int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestAsyncFlushesOnClose(t *testing.T) {
	mem := &memoryStore{}
	store := New(mem, Config{BatchSize: 1000, FlushInterval: time.Hour, NumWorkers: 3})

	for i := 0; i < 25; i++ {
		if err := store.Record(context.Background(), ledger.Entry{Endpoint: "/api/report", Outcome: ledger.OutcomeSuccess}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mem.count() != 25 {
		t.Fatalf("expected 25 flushed entries, got %d", mem.count())
	}
	if !mem.closed {
		t.Fatalf("underlying store not closed")
	}
	// second close must not panic
	_ = store.Close()
}

func TestAsyncFlushesOnInterval(t *testing.T) {
	mem := &memoryStore{}
	store := New(mem, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer store.Close()

	if err := store.Record(context.Background(), ledger.Entry{Endpoint: "/api/proxy", Outcome: ledger.OutcomeSuccess}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for mem.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry was not flushed by the ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	entries, _ := store.ListRecent(context.Background(), 10)
	if len(entries) != 1 || entries[0].ID == "" {
		t.Fatalf("expected normalised entry, got %#v", entries)
	}
}

func TestAsyncRejectsInvalidEntries(t *testing.T) {
	store := New(&memoryStore{}, Config{})
	defer store.Close()
	if err := store.Record(context.Background(), ledger.Entry{Endpoint: "/api/report", Outcome: "nope"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	slow := &blockingStore{memoryStore: &memoryStore{}, release: block}
	store := New(slow, Config{BatchSize: 1, ChannelBuffer: 1, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		_ = store.Record(context.Background(), ledger.Entry{Endpoint: "/api/report", Outcome: ledger.OutcomeSuccess})
	}
	if store.Dropped() == 0 {
		t.Fatal("expected dropped entries while the writer is blocked")
	}
	close(block)
	_ = store.Close()
}

type blockingStore struct {
	*memoryStore
	release chan struct{}
}

func (b *blockingStore) Record(ctx context.Context, e ledger.Entry) error {
	<-b.release
	return b.memoryStore.Record(ctx, e)
}
