package metrics

import (
	"fmt"
	"sort"
	"strings"
)

const prefix = "reportd_"

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	writeGauge(&sb, "uptime_seconds", "Time since reportd started", snap.Uptime)

	writeLabeled(&sb, "requests_total", "Total number of requests by endpoint", "counter", "endpoint", snap.TotalRequests, false)
	writeLabeled(&sb, "request_errors_total", "Total number of error responses by endpoint", "counter", "endpoint", snap.RequestErrors, false)
	// Only show active endpoints
	writeLabeled(&sb, "requests_in_progress", "Current number of requests being processed", "gauge", "endpoint", snap.RequestsInProgress, true)
	writeLabeled(&sb, "request_duration_ms_total", "Total request duration in milliseconds", "counter", "endpoint", snap.TotalRequestsDur, false)
	writeLabeled(&sb, "report_outcomes_total", "Terminal report outcomes", "counter", "outcome", snap.Outcomes, false)

	writeCounter(&sb, "rate_limit_hits_total", "Total number of rate limit rejections", snap.RateLimitHits)

	writeLabeled(&sb, "upstream_requests_total", "Upstream calls by status class", "counter", "status", snap.UpstreamRequests, false)
	writeCounter(&sb, "upstream_latency_ms_total", "Total time to upstream response headers in milliseconds", snap.UpstreamLatencyMs)
	writeCounter(&sb, "upstream_bytes_total", "Upstream stream bytes consumed", snap.UpstreamBytesIn)

	writeCounter(&sb, "stream_items_total", "Stream items completed by the aggregator", snap.StreamItems)
	writeCounter(&sb, "stream_items_malformed_total", "Stream items dropped as invalid JSON", snap.MalformedItems)
	writeCounter(&sb, "report_chars_total", "Characters of aggregated report text", snap.ReportChars)

	return sb.String()
}

func writeGauge(sb *strings.Builder, name, help string, v int64) {
	writeHeader(sb, name, help, "gauge")
	fmt.Fprintf(sb, "%s%s %d\n\n", prefix, name, v)
}

func writeCounter(sb *strings.Builder, name, help string, v int64) {
	writeHeader(sb, name, help, "counter")
	fmt.Fprintf(sb, "%s%s %d\n\n", prefix, name, v)
}

func writeLabeled(sb *strings.Builder, name, help, kind, label string, values map[string]int64, skipZero bool) {
	writeHeader(sb, name, help, kind)
	for _, key := range sortedKeys(values) {
		v := values[key]
		if skipZero && v <= 0 {
			continue
		}
		fmt.Fprintf(sb, "%s%s{%s=%q} %d\n", prefix, name, label, key, v)
	}
	sb.WriteString("\n")
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s%s %s\n", prefix, name, kind)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
