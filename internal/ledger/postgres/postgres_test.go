package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
)

// setupTestStore connects to TEST_DATABASE_URL and starts from an empty table.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres ledger tests")
	}
	store, err := New(dsn, PoolConfig{MaxOpen: 4, MaxIdle: 2})
	require.NoError(t, err)
	_, err = store.db.Exec(`TRUNCATE report_entries`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresRecordAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Record(ctx, ledger.Entry{
		Endpoint: "/api/report", Outcome: ledger.OutcomeSuccess, ReportChars: 11, DurationMs: 40, CreatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.Record(ctx, ledger.Entry{
		Endpoint: "/api/report", Outcome: ledger.OutcomeExtractionFailed, RequestID: "req-2", DurationMs: 20, CreatedAt: now,
	}))

	recent, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ledger.OutcomeExtractionFailed, recent[0].Outcome)
	assert.Equal(t, "req-2", recent[0].RequestID)
	assert.NotEmpty(t, recent[0].ID)

	summary, err := store.Summary(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Requests)
	assert.Equal(t, int64(1), summary.Succeeded)
	assert.Equal(t, int64(11), summary.ReportChars)
	assert.InDelta(t, 30.0, summary.AvgDurationMs, 0.001)
}

func TestPostgresRecordValidation(t *testing.T) {
	store := setupTestStore(t)
	err := store.Record(context.Background(), ledger.Entry{Endpoint: "/api/report", Outcome: "bogus"})
	assert.Error(t, err)
}
