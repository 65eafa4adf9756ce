package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"
	"github.com/tmaxmax/go-sse"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
	"github.com/tokligence/tokligence-report-proxy/internal/ratelimit"
	"github.com/tokligence/tokligence-report-proxy/internal/streamagg"
)

// Messages sent to clients. Anything more specific is logged only.
var (
	errNotConfigured    = errors.New("API key not configured")
	errExtraction       = errors.New("failed to extract report content")
	errInternal         = errors.New("Internal Server Error")
	errUpstreamFailed   = errors.New("upstream request failed")
	errInvalidJSON      = errors.New("invalid JSON body")
	errBodyTooLarge     = errors.New("request body too large")
	errInvalidLimit     = errors.New("limit must be a positive integer")
	errInvalidSince     = errors.New("since must be a duration or RFC3339 time")
	errStreamingUnavail = errors.New("streaming unsupported")
)

// reportCall tracks one request on a report route for metrics and the ledger.
type reportCall struct {
	s     *Server
	start time.Time
	entry ledger.Entry
	done  bool
}

func (s *Server) beginReport(r *http.Request, endpoint string) *reportCall {
	s.metrics.RecordRequestStart(endpoint)
	c := &reportCall{
		s:     s,
		start: time.Now(),
		entry: ledger.Entry{
			RequestID: middleware.GetReqID(r.Context()),
			Endpoint:  endpoint,
			ClientIP:  ratelimit.ClientIP(r),
		},
	}
	if s.upstream != nil {
		c.entry.Model = s.upstream.Model()
	}
	return c
}

// reject ends a call that never reached report generation (bad input).
func (c *reportCall) reject(status int) {
	if c.done {
		return
	}
	c.done = true
	c.s.metrics.RecordError(c.entry.Endpoint)
	c.s.metrics.RecordRequest(c.entry.Endpoint, time.Since(c.start))
	c.s.metrics.RecordRequestEnd(c.entry.Endpoint)
	c.s.debugf("%s rejected with %d", c.entry.Endpoint, status)
}

// finish records the terminal outcome. The ledger write outlives the request
// context so canceled calls are still accounted for.
func (c *reportCall) finish(ctx context.Context, outcome ledger.Outcome, status int, stats streamagg.Stats, text string) {
	if c.done {
		return
	}
	c.done = true
	s := c.s
	elapsed := time.Since(c.start)

	c.entry.Outcome = outcome
	c.entry.Items = stats.Items
	c.entry.ReportChars = utf8.RuneCountInString(text)
	c.entry.DurationMs = elapsed.Milliseconds()

	s.metrics.RecordOutcome(string(outcome))
	s.metrics.RecordAggregation(stats.Items, stats.Malformed, c.entry.ReportChars, stats.Bytes)
	if status >= 400 || outcome != ledger.OutcomeSuccess {
		s.metrics.RecordError(c.entry.Endpoint)
	}
	s.metrics.RecordRequest(c.entry.Endpoint, elapsed)
	s.metrics.RecordRequestEnd(c.entry.Endpoint)

	if stats.Malformed > 0 || stats.Pending > 0 {
		s.logf("%s request_id=%s: %d malformed item(s), %d byte(s) left unterminated", c.entry.Endpoint, c.entry.RequestID, stats.Malformed, stats.Pending)
	}
	s.debugf("%s outcome=%s status=%d items=%d chars=%d duration=%s",
		c.entry.Endpoint, outcome, status, stats.Items, c.entry.ReportChars, elapsed)

	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(context.WithoutCancel(ctx), c.entry); err != nil {
		s.logf("ledger record failed: %v", err)
	}
}

// readRequest checks the credential and reads a JSON body. It writes the
// error response itself and returns ok=false when the request cannot proceed.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request, call *reportCall) ([]byte, bool) {
	if s.upstream == nil {
		s.logf("%s: upstream credential missing", call.entry.Endpoint)
		s.respondError(w, http.StatusInternalServerError, errNotConfigured)
		call.finish(r.Context(), ledger.OutcomeNotConfigured, http.StatusInternalServerError, streamagg.Stats{}, "")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge)
			call.reject(http.StatusRequestEntityTooLarge)
			return nil, false
		}
		s.respondError(w, http.StatusBadRequest, errInvalidJSON)
		call.reject(http.StatusBadRequest)
		return nil, false
	}
	if !gjson.ValidBytes(body) {
		s.respondError(w, http.StatusBadRequest, errInvalidJSON)
		call.reject(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// openUpstream starts the upstream stream. On failure the response has been
// written and the call finished.
func (s *Server) openUpstream(w http.ResponseWriter, r *http.Request, call *reportCall, body []byte) (*gemini.Stream, bool) {
	start := time.Now()
	stream, err := s.upstream.StreamGenerateContent(r.Context(), body)
	if err == nil {
		s.metrics.RecordUpstream(stream.StatusCode, time.Since(start))
		call.entry.UpstreamStatus = stream.StatusCode
		return stream, true
	}

	var upErr *gemini.UpstreamError
	switch {
	case errors.As(err, &upErr):
		s.metrics.RecordUpstream(upErr.StatusCode, time.Since(start))
		call.entry.UpstreamStatus = upErr.StatusCode
		s.logf("%s: %v", call.entry.Endpoint, upErr)
		relayUpstreamError(w, upErr)
		call.finish(r.Context(), ledger.OutcomeUpstreamError, upErr.StatusCode, streamagg.Stats{}, "")
	case r.Context().Err() != nil:
		s.metrics.RecordUpstream(0, time.Since(start))
		call.finish(r.Context(), ledger.OutcomeCanceled, 0, streamagg.Stats{}, "")
	default:
		s.metrics.RecordUpstream(0, time.Since(start))
		s.logf("%s: %v", call.entry.Endpoint, err)
		s.respondError(w, http.StatusBadGateway, errUpstreamFailed)
		call.finish(r.Context(), ledger.OutcomeTransportError, http.StatusBadGateway, streamagg.Stats{}, "")
	}
	return nil, false
}

// relayUpstreamError passes a non-2xx upstream answer through unchanged.
func relayUpstreamError(w http.ResponseWriter, upErr *gemini.UpstreamError) {
	contentType := upErr.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(upErr.StatusCode)
	_, _ = w.Write(upErr.Body)
}

// classifyAggregation maps an aggregation error to its outcome, status and
// client-facing message. status 0 means the client is gone.
func classifyAggregation(ctx context.Context, err error) (ledger.Outcome, int, error) {
	switch {
	case errors.Is(err, streamagg.ErrNoContent):
		return ledger.OutcomeExtractionFailed, http.StatusInternalServerError, errExtraction
	case ctx.Err() != nil:
		return ledger.OutcomeCanceled, 0, nil
	case errors.Is(err, streamagg.ErrItemTooLarge):
		return ledger.OutcomeInternalError, http.StatusInternalServerError, errInternal
	default:
		return ledger.OutcomeTransportError, http.StatusBadGateway, errUpstreamFailed
	}
}

// HandleReport forwards the body upstream and answers {"report": text} once
// the whole stream has been aggregated.
func (s *Server) HandleReport(w http.ResponseWriter, r *http.Request) {
	call := s.beginReport(r, "report")
	body, ok := s.readRequest(w, r, call)
	if !ok {
		return
	}
	stream, ok := s.openUpstream(w, r, call, body)
	if !ok {
		return
	}
	defer stream.Close()

	text, stats, err := streamagg.Aggregate(r.Context(), stream, s.aggOpts...)
	if err != nil {
		outcome, status, msg := classifyAggregation(r.Context(), err)
		if outcome != ledger.OutcomeExtractionFailed {
			s.logf("report request_id=%s: %v", call.entry.RequestID, err)
		}
		if status != 0 {
			s.respondError(w, status, msg)
		}
		call.finish(r.Context(), outcome, status, stats, "")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"report": text})
	call.finish(r.Context(), ledger.OutcomeSuccess, http.StatusOK, stats, text)
}

// HandleProxy relays the raw upstream stream as text/plain, flushing after
// every read. The stream is aggregated on the side for accounting only.
func (s *Server) HandleProxy(w http.ResponseWriter, r *http.Request) {
	call := s.beginReport(r, "proxy")
	body, ok := s.readRequest(w, r, call)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.respondError(w, http.StatusInternalServerError, errStreamingUnavail)
		call.finish(r.Context(), ledger.OutcomeInternalError, http.StatusInternalServerError, streamagg.Stats{}, "")
		return
	}
	stream, ok := s.openUpstream(w, r, call, body)
	if !ok {
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	agg := streamagg.New(s.aggOpts...)
	outcome := ledger.OutcomeSuccess
	buf := make([]byte, 8192)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				outcome = ledger.OutcomeCanceled
				break
			}
			flusher.Flush()
			_, _ = agg.Write(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				outcome = ledger.OutcomeTransportError
				if r.Context().Err() != nil {
					outcome = ledger.OutcomeCanceled
				} else {
					s.logf("proxy request_id=%s: read stream: %v", call.entry.RequestID, err)
				}
			}
			break
		}
	}
	text, _ := agg.Result()
	call.finish(r.Context(), outcome, http.StatusOK, agg.Stats(), text)
}

// HandleReportStream answers with Server-Sent Events: one "delta" event per
// chunk that completed text, then "done" with {"report": ...} or "error"
// with {"error": ...}. Failures before the upstream stream opens are plain
// JSON responses, as on /api/report.
func (s *Server) HandleReportStream(w http.ResponseWriter, r *http.Request) {
	call := s.beginReport(r, "report_stream")
	body, ok := s.readRequest(w, r, call)
	if !ok {
		return
	}
	stream, ok := s.openUpstream(w, r, call, body)
	if !ok {
		return
	}
	defer stream.Close()

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logf("report_stream: upgrade: %v", err)
		s.respondError(w, http.StatusInternalServerError, errInternal)
		call.finish(r.Context(), ledger.OutcomeInternalError, http.StatusInternalServerError, streamagg.Stats{}, "")
		return
	}

	send := func(event, data string) error {
		msg := &sse.Message{Type: sse.Type(event)}
		msg.AppendData(data)
		if err := sess.Send(msg); err != nil {
			return err
		}
		return sess.Flush()
	}

	text, stats, err := streamagg.Stream(r.Context(), stream, func(delta string) error {
		return send("delta", delta)
	}, s.aggOpts...)
	if err != nil {
		outcome, status, msg := classifyAggregation(r.Context(), err)
		if outcome != ledger.OutcomeExtractionFailed {
			s.logf("report_stream request_id=%s: %v", call.entry.RequestID, err)
		}
		if status != 0 {
			payload, _ := json.Marshal(map[string]string{"error": msg.Error()})
			_ = send("error", string(payload))
		}
		call.finish(r.Context(), outcome, status, stats, "")
		return
	}

	payload, _ := json.Marshal(map[string]string{"report": text})
	if err := send("done", string(payload)); err != nil {
		s.logf("report_stream request_id=%s: send done: %v", call.entry.RequestID, err)
	}
	call.finish(r.Context(), ledger.OutcomeSuccess, http.StatusOK, stats, text)
}
