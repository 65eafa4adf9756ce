package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/health"
	"github.com/tokligence/tokligence-report-proxy/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
	"github.com/tokligence/tokligence-report-proxy/internal/metrics"
	"github.com/tokligence/tokligence-report-proxy/internal/ratelimit"
	"github.com/tokligence/tokligence-report-proxy/internal/streamagg"
)

// DefaultMaxRequestBytes caps inbound request bodies.
const DefaultMaxRequestBytes int64 = 1 << 20

var defaultEndpointKeys = []string{"report", "health", "metrics", "usage"}

// Upstream opens a streaming generation call. *gemini.Adapter implements it.
type Upstream interface {
	Model() string
	StreamGenerateContent(ctx context.Context, body []byte) (*gemini.Stream, error)
}

// Options wires the server's collaborators. Only Upstream is needed to serve
// reports; a nil Upstream makes every report route answer
// "API key not configured".
type Options struct {
	Upstream Upstream
	Ledger   ledger.Store
	Metrics  *metrics.Collector
	Health   *health.Checker
	// Limiter enables per-client rate limiting on the report routes.
	Limiter *ratelimit.Limiter

	CORSAllowedOrigins []string
	MaxRequestBytes    int64
	// EndpointKeys selects which endpoint groups are mounted.
	EndpointKeys []string
	// AggregatorOptions are passed to every aggregation.
	AggregatorOptions []streamagg.Option
}

// Server exposes the report proxy over HTTP.
type Server struct {
	upstream        Upstream
	ledger          ledger.Store
	metrics         *metrics.Collector
	health          *health.Checker
	limiter         *ratelimit.Limiter
	corsOrigins     []string
	maxRequestBytes int64
	endpointKeys    []string
	aggOpts         []streamagg.Option

	// logging
	logger   *log.Logger
	logLevel string
}

// New builds a Server from opts.
func New(opts Options) *Server {
	s := &Server{
		upstream:        opts.Upstream,
		ledger:          opts.Ledger,
		metrics:         opts.Metrics,
		health:          opts.Health,
		limiter:         opts.Limiter,
		corsOrigins:     opts.CORSAllowedOrigins,
		maxRequestBytes: opts.MaxRequestBytes,
		endpointKeys:    normalizeEndpointKeys(opts.EndpointKeys, defaultEndpointKeys),
		aggOpts:         opts.AggregatorOptions,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	if s.health == nil {
		s.health = health.New(health.Config{})
	}
	if s.maxRequestBytes <= 0 {
		s.maxRequestBytes = DefaultMaxRequestBytes
	}
	if len(s.corsOrigins) == 0 {
		s.corsOrigins = []string{"*"}
	}
	return s
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, errors.New("Not Found"))
	})
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		routes := ep.Routes()
		for _, route := range routes {
			r.Method(route.Method, route.Path, route.Handler)
		}
		order, methods := protocol.MethodsByPath(routes)
		// Explicit 405s so the JSON envelope and Allow header match the
		// rest of the API. OPTIONS stays with the CORS middleware.
		for _, path := range order {
			allowed := methods[path]
			for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead} {
				if !containsMethod(allowed, m) {
					r.Method(m, path, s.methodNotAllowed(allowed))
				}
			}
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else if s.isDebug() {
			s.debugf("endpoint %s unavailable, skipping registration", key)
		}
	}
	if len(endpoints) == 0 {
		return 0
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "report", "reports":
		return newReportEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		return newMetricsEndpoint(s)
	case "usage":
		if s.ledger == nil {
			return nil
		}
		return newUsageEndpoint(s)
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		list = defaults
	}
	out := make([]string, 0, len(list))
	for _, key := range list {
		if key = strings.ToLower(strings.TrimSpace(key)); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// SetLogger configures server-level logger and verbosity ("debug", "info", ...).
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) methodNotAllowed(allowed []string) http.HandlerFunc {
	allow := strings.Join(append(append([]string(nil), allowed...), http.MethodOptions), ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		s.respondError(w, http.StatusMethodNotAllowed, errors.New("Method Not Allowed"))
	}
}

func containsMethod(list []string, method string) bool {
	for _, m := range list {
		if m == method {
			return true
		}
	}
	return false
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
