package httpserver

import (
	"net/http"

	"github.com/tokligence/tokligence-report-proxy/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-report-proxy/internal/ratelimit"
)

type reportEndpoint struct {
	server *Server
}

func newReportEndpoint(server *Server) protocol.Endpoint {
	return &reportEndpoint{server: server}
}

func (e *reportEndpoint) Name() string { return "report" }

func (e *reportEndpoint) Routes() []protocol.EndpointRoute {
	s := e.server
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/api/report", Handler: s.rateLimited(http.HandlerFunc(s.HandleReport))},
		{Method: http.MethodPost, Path: "/api/report/stream", Handler: s.rateLimited(http.HandlerFunc(s.HandleReportStream))},
		{Method: http.MethodPost, Path: "/api/proxy", Handler: s.rateLimited(http.HandlerFunc(s.HandleProxy))},
	}
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return ratelimit.NewMiddleware(s.limiter, true, s.logger).
		OnLimit(s.metrics.RecordRateLimitHit).
		Wrap(next)
}
