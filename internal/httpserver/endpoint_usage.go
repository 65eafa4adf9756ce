package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/httpserver/protocol"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

type usageEndpoint struct {
	server *Server
}

func newUsageEndpoint(server *Server) protocol.Endpoint {
	return &usageEndpoint{server: server}
}

func (e *usageEndpoint) Name() string { return "usage" }

func (e *usageEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/api/v1/usage/recent", Handler: http.HandlerFunc(e.server.handleUsageRecent)},
		{Method: http.MethodGet, Path: "/api/v1/usage/summary", Handler: http.HandlerFunc(e.server.handleUsageSummary)},
	}
}

func (s *Server) handleUsageRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = min(n, maxRecentLimit)
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.logf("usage recent failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, errInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleUsageSummary folds the ledger since ?since= (RFC3339 or a duration
// such as 24h); everything when absent.
func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := strings.TrimSpace(r.URL.Query().Get("since")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			since = time.Now().Add(-d)
		} else if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		} else {
			s.respondError(w, http.StatusBadRequest, errInvalidSince)
			return
		}
	}
	summary, err := s.ledger.Summary(r.Context(), since)
	if err != nil {
		s.logf("usage summary failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, errInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}
