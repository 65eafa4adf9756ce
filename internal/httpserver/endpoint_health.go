package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/health"
	"github.com/tokligence/tokligence-report-proxy/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-report-proxy/internal/metrics"
	"github.com/tokligence/tokligence-report-proxy/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
	}
}

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.HandleMetrics)},
	}
}

// HandleHealth reports store health, the configured model and whether a
// credential is present. ?deep=1 also probes the upstream host.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	deep := r.URL.Query().Get("deep") != ""
	status := s.health.Check(r.Context(), deep)

	payload := map[string]any{
		"status":                status.Status,
		"time":                  time.Now().UTC().Format(time.RFC3339),
		"version":               version.Info(),
		"credential_configured": s.upstream != nil,
		"components":            status.Components,
	}
	if s.upstream != nil {
		payload["model"] = s.upstream.Model()
	}

	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, payload)
}

// HandleMetrics writes the collector in Prometheus text format.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.metrics.GetSnapshot())))
}
