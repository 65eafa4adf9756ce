// Package streamagg turns the chunked body of a Gemini streamGenerateContent
// call into a single text.
//
// Without alt=sse the endpoint answers with one JSON array, [obj1,obj2,...],
// whose bytes arrive in arbitrary pieces. The Aggregator decodes the pieces as
// UTF-8 with state carried across writes, frames complete top-level objects
// and appends the text of each one in arrival order.
package streamagg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// DefaultMaxItemBytes bounds a single buffered item.
	DefaultMaxItemBytes = 8 << 20
	// DefaultReadSize is the buffer size used by Aggregate and Stream.
	DefaultReadSize = 4 << 10
)

var (
	// ErrNoContent is returned when a stream ended without yielding any text.
	ErrNoContent = errors.New("streamagg: no content extracted")
	// ErrItemTooLarge is returned when one item outgrows the configured limit.
	ErrItemTooLarge = errors.New("streamagg: stream item exceeds size limit")
	// ErrFinished is returned when data is written after Result.
	ErrFinished = errors.New("streamagg: aggregator already finished")
)

// Stats describes what an aggregation has seen so far.
type Stats struct {
	Bytes     int64 `json:"bytes"`
	Items     int   `json:"items"`
	TextItems int   `json:"text_items"`
	Skipped   int   `json:"skipped"`
	Malformed int   `json:"malformed"`
	// Pending is the size of an unfinished trailing item, non-zero only when
	// the stream was cut mid-item.
	Pending int `json:"pending"`
}

// Option customises an Aggregator.
type Option func(*options)

type options struct {
	maxItemBytes int
	readSize     int
}

// WithMaxItemBytes caps the size of a single item. n <= 0 disables the cap.
func WithMaxItemBytes(n int) Option {
	return func(o *options) { o.maxItemBytes = n }
}

// WithReadSize sets the read buffer size used by Aggregate and Stream.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// Aggregator accumulates the text of one stream. It is not safe for
// concurrent use; one request owns one Aggregator.
type Aggregator struct {
	dec    *transform.Writer
	framer *framer
	opts   options

	text     strings.Builder
	delta    strings.Builder
	stats    Stats
	finished bool
	finalErr error
}

// New returns an empty Aggregator.
func New(opts ...Option) *Aggregator {
	o := options{maxItemBytes: DefaultMaxItemBytes, readSize: DefaultReadSize}
	for _, opt := range opts {
		opt(&o)
	}
	a := &Aggregator{opts: o}
	a.framer = newFramer(o.maxItemBytes, a.handleItem)
	a.dec = transform.NewWriter(a.framer, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	return a
}

func (a *Aggregator) handleItem(obj []byte) error {
	a.stats.Items++
	text, ok, valid := classify(obj)
	switch {
	case !valid:
		a.stats.Malformed++
	case !ok:
		a.stats.Skipped++
	default:
		a.stats.TextItems++
		a.text.WriteString(text)
		a.delta.WriteString(text)
	}
	return nil
}

// Write feeds one chunk of the raw stream.
func (a *Aggregator) Write(p []byte) (int, error) {
	if a.finished {
		return 0, ErrFinished
	}
	a.stats.Bytes += int64(len(p))
	return a.dec.Write(p)
}

// Feed writes p and returns the text completed by it. A delta is empty when
// p did not finish any item.
func (a *Aggregator) Feed(p []byte) (string, error) {
	a.delta.Reset()
	if _, err := a.Write(p); err != nil {
		return "", err
	}
	return a.delta.String(), nil
}

// Text returns the text aggregated so far.
func (a *Aggregator) Text() string { return a.text.String() }

// Stats returns a copy of the counters.
func (a *Aggregator) Stats() Stats {
	s := a.stats
	s.Pending = a.framer.pending()
	return s
}

// Result flushes the decoder and returns the aggregated text. It returns
// ErrNoContent when no item carried text. Calling Result more than once
// returns the same outcome.
func (a *Aggregator) Result() (string, error) {
	if !a.finished {
		a.finished = true
		a.delta.Reset()
		if err := a.dec.Close(); err != nil {
			a.finalErr = err
		}
	}
	if a.finalErr != nil {
		return "", a.finalErr
	}
	if a.text.Len() == 0 {
		return "", ErrNoContent
	}
	return a.text.String(), nil
}

// Aggregate reads r to EOF and returns the aggregated text.
func Aggregate(ctx context.Context, r io.Reader, opts ...Option) (string, Stats, error) {
	return Stream(ctx, r, nil, opts...)
}

// Stream reads r to EOF, calling fn with the text of every chunk that
// completed at least one item. Returning an error from fn stops the read.
// Reads are never retried; a transport error ends the aggregation.
func Stream(ctx context.Context, r io.Reader, fn func(delta string) error, opts ...Option) (string, Stats, error) {
	a := New(opts...)
	buf := make([]byte, a.opts.readSize)
	for {
		select {
		case <-ctx.Done():
			return "", a.Stats(), ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			delta, ferr := a.Feed(buf[:n])
			if ferr != nil {
				return "", a.Stats(), ferr
			}
			if delta != "" && fn != nil {
				if cbErr := fn(delta); cbErr != nil {
					return "", a.Stats(), cbErr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", a.Stats(), ctxErr
			}
			return "", a.Stats(), fmt.Errorf("streamagg: read stream: %w", err)
		}
	}

	text, err := a.Result()
	return text, a.Stats(), err
}
