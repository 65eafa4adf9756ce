package async

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes so the request
// path never waits on the database.
// WARNING: Entries may be lost if the process crashes before flushing.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	closeOnce     sync.Once
	dropped       atomic.Int64
	logger        *log.Logger
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Channel buffer size (default: 10000)
	NumWorkers    int           // Number of parallel batch writers (default: 1)
	Logger        *log.Logger   // Optional logger for diagnostics
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 1 * time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}

	if s.logger != nil {
		s.logger.Printf("[async-ledger] started %d worker(s), batch_size=%d, flush_interval=%v, buffer=%d",
			cfg.NumWorkers, cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	}

	return s
}

// batchWriter runs in a background goroutine, batching entries and writing them periodically.
func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		ctx := context.Background()
		successCount := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				if s.logger != nil {
					s.logger.Printf("[async-ledger] worker-%d ERROR writing entry %s: %v", workerID, entry.ID, err)
				}
				continue
			}
			successCount++
		}

		if s.logger != nil && successCount > 0 {
			s.logger.Printf("[async-ledger] worker-%d flushed %d/%d entries in %v",
				workerID, successCount, len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.stopChan:
			// Drain whatever is still queued; other workers drain concurrently.
			for {
				select {
				case entry := <-s.entryChan:
					batch = append(batch, entry)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record validates and queues an entry for asynchronous writing. It never
// blocks; when the queue is full the entry is dropped and counted.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Normalize(&entry); err != nil {
		return err
	}
	select {
	case <-s.stopChan:
		return s.underlying.Record(ctx, entry)
	default:
	}
	select {
	case s.entryChan <- entry:
		return nil
	default:
		s.dropped.Add(1)
		if s.logger != nil {
			s.logger.Printf("[async-ledger] WARNING: channel full, dropping entry %s", entry.ID)
		}
		return nil
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Summary delegates to the underlying store (blocking operation).
func (s *Store) Summary(ctx context.Context, since time.Time) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, since)
}

// ListRecent delegates to the underlying store (blocking operation).
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// PingContext forwards to the underlying store when it supports pings.
func (s *Store) PingContext(ctx context.Context) error {
	if p, ok := s.underlying.(interface{ PingContext(context.Context) error }); ok {
		return p.PingContext(ctx)
	}
	return nil
}

// Close flushes remaining entries and closes the underlying store.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return s.underlying.Close()
}
