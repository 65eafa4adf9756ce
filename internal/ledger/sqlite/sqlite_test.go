package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "reportd.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordAndSummary(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	record := func(outcome ledger.Outcome, chars int, duration int64) {
		if err := store.Record(ctx, ledger.Entry{
			Endpoint:    "/api/report",
			Model:       "gemini-test",
			Outcome:     outcome,
			ReportChars: chars,
			DurationMs:  duration,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record(ledger.OutcomeSuccess, 120, 300)
	record(ledger.OutcomeSuccess, 80, 100)
	record(ledger.OutcomeUpstreamError, 0, 200)

	summary, err := store.Summary(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Requests != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if summary.ReportChars != 200 {
		t.Fatalf("expected 200 report chars, got %d", summary.ReportChars)
	}
	if summary.AvgDurationMs != 200 {
		t.Fatalf("expected avg 200ms, got %v", summary.AvgDurationMs)
	}
	if summary.ByOutcome[ledger.OutcomeUpstreamError] != 1 {
		t.Fatalf("unexpected outcome breakdown %v", summary.ByOutcome)
	}

	future, err := store.Summary(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary(future): %v", err)
	}
	if future.Requests != 0 {
		t.Fatalf("expected no entries after cutoff, got %+v", future)
	}
}

func TestListRecentOrdering(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	entries := []ledger.Entry{
		{Endpoint: "/api/report", Outcome: ledger.OutcomeSuccess, Items: 1, CreatedAt: now.Add(-2 * time.Hour)},
		{Endpoint: "/api/report", Outcome: ledger.OutcomeSuccess, Items: 2, CreatedAt: now.Add(-1 * time.Hour)},
		{Endpoint: "/api/proxy", Outcome: ledger.OutcomeTransportError, Items: 3, CreatedAt: now, RequestID: "req-3", ClientIP: "10.0.0.1"},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Items != 3 || recent[1].Items != 2 {
		t.Fatalf("unexpected ordering %#v", recent)
	}
	if recent[0].ID == "" || recent[0].RequestID != "req-3" || recent[0].ClientIP != "10.0.0.1" {
		t.Fatalf("fields not round-tripped: %#v", recent[0])
	}
	if recent[0].Outcome != ledger.OutcomeTransportError {
		t.Fatalf("unexpected outcome %q", recent[0].Outcome)
	}
}

func TestRecordValidation(t *testing.T) {
	store := openStore(t)

	err := store.Record(context.Background(), ledger.Entry{Outcome: ledger.OutcomeSuccess})
	if err == nil {
		t.Fatalf("expected error for missing endpoint")
	}

	err = store.Record(context.Background(), ledger.Entry{Endpoint: "/api/report", Outcome: "unexpected"})
	if err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
}
