package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Collector collects report proxy metrics and exports them in Prometheus text
// format without pulling in prometheus/client_golang.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64 // current in-flight requests

	// Report outcomes (success, upstream_error, extraction_failed, ...)
	outcomes map[string]int64

	// Rate limit metrics
	rateLimitHits int64

	// Upstream metrics
	upstreamRequests map[string]int64 // by status class (2xx, 4xx, 5xx, error)
	upstreamLatency  int64            // total ms until headers
	upstreamCount    int64

	// Aggregation metrics
	streamItems     int64
	malformedItems  int64
	reportChars     int64
	upstreamBytesIn int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		outcomes:           make(map[string]int64),
		upstreamRequests:   make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a finished request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records an error response for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[endpoint]--
}

// RecordOutcome counts one terminal request outcome.
func (c *Collector) RecordOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[outcome]++
}

// RecordRateLimitHit records a rate limit rejection. Client keys are not
// kept as labels.
func (c *Collector) RecordRateLimitHit(string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
}

// RecordUpstream records one upstream call. status is 0 for transport failures.
func (c *Collector) RecordUpstream(status int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.upstreamRequests[statusClass(status)]++
	c.upstreamLatency += latency.Milliseconds()
	c.upstreamCount++
}

// RecordAggregation records the counters of one finished aggregation.
func (c *Collector) RecordAggregation(items, malformed, chars int, bytesIn int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamItems += int64(items)
	c.malformedItems += int64(malformed)
	c.reportChars += int64(chars)
	c.upstreamBytesIn += bytesIn
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64
	Outcomes           map[string]int64
	RateLimitHits      int64
	UpstreamRequests   map[string]int64
	UpstreamLatencyMs  int64
	UpstreamCount      int64
	StreamItems        int64
	MalformedItems     int64
	ReportChars        int64
	UpstreamBytesIn    int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:             int64(time.Since(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		Outcomes:           copyMap(c.outcomes),
		RateLimitHits:      c.rateLimitHits,
		UpstreamRequests:   copyMap(c.upstreamRequests),
		UpstreamLatencyMs:  c.upstreamLatency,
		UpstreamCount:      c.upstreamCount,
		StreamItems:        c.streamItems,
		MalformedItems:     c.malformedItems,
		ReportChars:        c.reportChars,
		UpstreamBytesIn:    c.upstreamBytesIn,
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
