package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a report request ended.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeUpstreamError    Outcome = "upstream_error"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeTransportError   Outcome = "transport_error"
	OutcomeNotConfigured    Outcome = "not_configured"
	OutcomeInternalError    Outcome = "internal_error"
	OutcomeCanceled         Outcome = "canceled"
)

var outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeUpstreamError,
	OutcomeExtractionFailed,
	OutcomeTransportError,
	OutcomeNotConfigured,
	OutcomeInternalError,
	OutcomeCanceled,
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	for _, known := range outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// Entry is one request written to the local ledger. Report text is never
// stored, only its size.
type Entry struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"request_id,omitempty"`
	Endpoint       string    `json:"endpoint"`
	Model          string    `json:"model"`
	Outcome        Outcome   `json:"outcome"`
	UpstreamStatus int       `json:"upstream_status"`
	Items          int       `json:"items"`
	ReportChars    int       `json:"report_chars"`
	DurationMs     int64     `json:"duration_ms"`
	ClientIP       string    `json:"client_ip,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates ledger entries.
type Summary struct {
	Requests      int64             `json:"requests"`
	Succeeded     int64             `json:"succeeded"`
	Failed        int64             `json:"failed"`
	ReportChars   int64             `json:"report_chars"`
	AvgDurationMs float64           `json:"avg_duration_ms"`
	ByOutcome     map[Outcome]int64 `json:"by_outcome"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, since time.Time) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Normalize validates entry and fills ID and CreatedAt when unset.
func Normalize(entry *Entry) error {
	if strings.TrimSpace(entry.Endpoint) == "" {
		return errors.New("ledger record requires endpoint")
	}
	if !entry.Outcome.Valid() {
		return fmt.Errorf("invalid outcome %q", entry.Outcome)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return nil
}

// SummaryBuilder folds per-outcome rows into a Summary.
type SummaryBuilder struct {
	summary    Summary
	durationMs int64
}

// NewSummaryBuilder returns an empty builder.
func NewSummaryBuilder() *SummaryBuilder {
	return &SummaryBuilder{summary: Summary{ByOutcome: make(map[Outcome]int64)}}
}

// Add accounts count entries with the given outcome and totals.
func (b *SummaryBuilder) Add(outcome Outcome, count, reportChars, durationMs int64) {
	b.summary.Requests += count
	b.summary.ReportChars += reportChars
	b.summary.ByOutcome[outcome] += count
	b.durationMs += durationMs
	if outcome == OutcomeSuccess {
		b.summary.Succeeded += count
	} else {
		b.summary.Failed += count
	}
}

// Summary returns the folded result.
func (b *SummaryBuilder) Summary() Summary {
	out := b.summary
	if out.Requests > 0 {
		out.AvgDurationMs = float64(b.durationMs) / float64(out.Requests)
	}
	return out
}
