package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart("report")
	c.RecordRequestStart("report")
	c.RecordRequestEnd("report")
	c.RecordRequest("report", 150*time.Millisecond)
	c.RecordError("report")
	c.RecordOutcome("success")
	c.RecordOutcome("success")
	c.RecordOutcome("upstream_error")
	c.RecordRateLimitHit("192.0.2.1")
	c.RecordUpstream(200, 40*time.Millisecond)
	c.RecordUpstream(429, 10*time.Millisecond)
	c.RecordUpstream(0, 5*time.Millisecond)
	c.RecordAggregation(3, 1, 11, 256)

	snap := c.GetSnapshot()
	if snap.TotalRequests["report"] != 1 || snap.TotalRequestsDur["report"] != 150 {
		t.Fatalf("unexpected request counters: %+v", snap)
	}
	if snap.RequestsInProgress["report"] != 1 {
		t.Fatalf("expected 1 in flight, got %d", snap.RequestsInProgress["report"])
	}
	if snap.Outcomes["success"] != 2 || snap.Outcomes["upstream_error"] != 1 {
		t.Fatalf("unexpected outcomes: %v", snap.Outcomes)
	}
	if snap.UpstreamRequests["2xx"] != 1 || snap.UpstreamRequests["4xx"] != 1 || snap.UpstreamRequests["error"] != 1 {
		t.Fatalf("unexpected status classes: %v", snap.UpstreamRequests)
	}
	if snap.UpstreamLatencyMs != 55 || snap.UpstreamCount != 3 {
		t.Fatalf("unexpected upstream latency: %d/%d", snap.UpstreamLatencyMs, snap.UpstreamCount)
	}
	if snap.StreamItems != 3 || snap.MalformedItems != 1 || snap.ReportChars != 11 || snap.UpstreamBytesIn != 256 {
		t.Fatalf("unexpected aggregation counters: %+v", snap)
	}

	// snapshots are copies
	snap.Outcomes["success"] = 100
	if c.GetSnapshot().Outcomes["success"] != 2 {
		t.Fatal("snapshot shares state with collector")
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("report", time.Second)
	c.RecordRequestStart("proxy")
	c.RecordRequestEnd("proxy")
	c.RecordOutcome("extraction_failed")
	c.RecordRateLimitHit("k")

	out := FormatPrometheus(c.GetSnapshot())
	for _, want := range []string{
		"# TYPE reportd_requests_total counter\n",
		`reportd_requests_total{endpoint="report"} 1`,
		`reportd_request_duration_ms_total{endpoint="report"} 1000`,
		`reportd_report_outcomes_total{outcome="extraction_failed"} 1`,
		"reportd_rate_limit_hits_total 1\n",
		"# TYPE reportd_uptime_seconds gauge\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, `reportd_requests_in_progress{endpoint="proxy"}`) {
		t.Errorf("idle endpoint should not be listed as in progress")
	}
}
