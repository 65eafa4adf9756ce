package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-report-proxy/pkg/reportclient"
)

type benchStats struct {
	totalRequests int64
	totalErrors   int64
	totalDuration int64 // microseconds
	totalChars    int64
	minLatency    int64
	maxLatency    int64
	statuses      map[int]int64
	latencies     []int64
	mu            sync.Mutex
}

func (s *benchStats) record(latency int64, chars int, status int) {
	atomic.AddInt64(&s.totalRequests, 1)
	atomic.AddInt64(&s.totalDuration, latency)
	atomic.AddInt64(&s.totalChars, int64(chars))
	if status != http.StatusOK {
		atomic.AddInt64(&s.totalErrors, 1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.statuses[status]++
	s.mu.Unlock()

	for {
		old := atomic.LoadInt64(&s.minLatency)
		if latency >= old || atomic.CompareAndSwapInt64(&s.minLatency, old, latency) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.maxLatency)
		if latency <= old || atomic.CompareAndSwapInt64(&s.maxLatency, old, latency) {
			break
		}
	}
}

func newBenchCmd() *cobra.Command {
	var (
		baseURL     string
		duration    time.Duration
		concurrency int
		rps         int
		stream      bool
	)
	cmd := &cobra.Command{
		Use:   "bench [payload.json]",
		Short: "Load test a running reportd",
		Long: `Sends the payload to /api/report (or /api/report/stream with --stream)
from concurrent workers and prints latency percentiles. Point reportd at a
stub upstream unless you mean to spend quota.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency <= 0 {
				return errors.New("concurrency must be positive")
			}
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			transport := &http.Transport{
				MaxIdleConns:        concurrency,
				MaxIdleConnsPerHost: concurrency,
				IdleConnTimeout:     90 * time.Second,
			}
			defer transport.CloseIdleConnections()
			client, err := reportclient.New(baseURL, &http.Client{Transport: transport})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Starting load test:\n")
			fmt.Fprintf(out, "  URL:          %s\n", baseURL)
			fmt.Fprintf(out, "  Stream:       %v\n", stream)
			fmt.Fprintf(out, "  Duration:     %s\n", duration)
			fmt.Fprintf(out, "  Concurrency:  %d\n", concurrency)
			fmt.Fprintf(out, "  Target RPS:   %d\n", rps)

			stats := runBench(cmd.Context(), client, payload, duration, concurrency, rps, stream)
			printBench(out, stats, duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultURL, "reportd base URL")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "test duration")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 10, "number of concurrent workers")
	cmd.Flags().IntVar(&rps, "rps", 0, "target requests per second (0 = unlimited)")
	cmd.Flags().BoolVar(&stream, "stream", false, "use the SSE endpoint")
	return cmd
}

func runBench(ctx context.Context, client *reportclient.Client, payload []byte, duration time.Duration, concurrency, rps int, stream bool) *benchStats {
	stats := &benchStats{minLatency: 1<<63 - 1, statuses: make(map[int]int64)}
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var rateChan <-chan time.Time
	if rps > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(rps))
		defer ticker.Stop()
		rateChan = ticker.C
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if rateChan != nil {
					select {
					case <-ctx.Done():
						return
					case <-rateChan:
					}
				}
				if ctx.Err() != nil {
					return
				}

				start := time.Now()
				var text string
				var err error
				if stream {
					text, err = client.Stream(ctx, payload, nil)
				} else {
					text, err = client.Report(ctx, payload)
				}
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return
				}
				stats.record(time.Since(start).Microseconds(), len(text), statusOf(err))
			}
		}()
	}
	wg.Wait()
	return stats
}

// statusOf maps a client error to the HTTP status it carried, 0 for
// transport failures.
func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *reportclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusOK {
			// error event after a successful upgrade
			return http.StatusInternalServerError
		}
		return apiErr.StatusCode
	}
	return 0
}

func printBench(out io.Writer, stats *benchStats, duration time.Duration) {
	sort.Slice(stats.latencies, func(i, j int) bool {
		return stats.latencies[i] < stats.latencies[j]
	})
	elapsed := duration.Seconds()
	total := stats.totalRequests

	fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(out, "Benchmark Results")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Total Requests:     %d\n", total)
	fmt.Fprintf(out, "Total Failures:     %d\n", stats.totalErrors)
	fmt.Fprintf(out, "Requests/sec:       %.2f\n", float64(total)/elapsed)
	if total == 0 {
		fmt.Fprintln(out, strings.Repeat("=", 60))
		return
	}
	fmt.Fprintf(out, "Avg Report Chars:   %.0f\n", float64(stats.totalChars)/float64(total))
	fmt.Fprintln(out, strings.Repeat("-", 60))
	fmt.Fprintf(out, "Min Latency:        %.2f ms\n", float64(stats.minLatency)/1000)
	fmt.Fprintf(out, "P50 Latency:        %.2f ms\n", float64(percentile(stats.latencies, 0.50))/1000)
	fmt.Fprintf(out, "Average Latency:    %.2f ms\n", float64(stats.totalDuration)/float64(total)/1000)
	fmt.Fprintf(out, "P95 Latency:        %.2f ms\n", float64(percentile(stats.latencies, 0.95))/1000)
	fmt.Fprintf(out, "P99 Latency:        %.2f ms\n", float64(percentile(stats.latencies, 0.99))/1000)
	fmt.Fprintf(out, "Max Latency:        %.2f ms\n", float64(stats.maxLatency)/1000)
	fmt.Fprintln(out, strings.Repeat("-", 60))
	codes := make([]int, 0, len(stats.statuses))
	for code := range stats.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(out, "Status %-3d:         %d\n", code, stats.statuses[code])
	}
	fmt.Fprintf(out, "Error Rate:         %.2f%%\n", float64(stats.totalErrors)/float64(total)*100)
	fmt.Fprintln(out, strings.Repeat("=", 60))
}

func percentile(latencies []int64, p float64) int64 {
	if len(latencies) == 0 {
		return 0
	}
	index := int(float64(len(latencies)) * p)
	if index >= len(latencies) {
		index = len(latencies) - 1
	}
	return latencies[index]
}
