package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/config"
	"github.com/tokligence/tokligence-report-proxy/internal/health"
	"github.com/tokligence/tokligence-report-proxy/internal/httpserver"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger/async"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger/postgres"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger/sqlite"
	"github.com/tokligence/tokligence-report-proxy/internal/metrics"
	"github.com/tokligence/tokligence-report-proxy/internal/ratelimit"
)

// App is a fully wired report proxy shared by reportd and the serverless
// entry points.
type App struct {
	Server  *httpserver.Server
	Handler http.Handler
	Adapter *gemini.Adapter // nil when no credential is configured

	closers []func() error
}

// Close releases the ledger and rate limit store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires every component from cfg. A missing API key is not an error:
// the server starts and the report routes answer "API key not configured".
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	adapter, err := NewAdapter(cfg)
	switch {
	case errors.Is(err, gemini.ErrMissingAPIKey):
		if logger != nil {
			logger.Printf("gemini api key not configured; report routes will return 500")
		}
	case err != nil:
		return nil, err
	}
	app.Adapter = adapter

	store, err := OpenLedger(cfg, logger)
	if err != nil {
		return nil, err
	}
	healthCfg := health.Config{}
	if store != nil {
		app.closers = append(app.closers, store.Close)
		if p, isPinger := store.(health.Pinger); isPinger {
			healthCfg.Ledger = p
		}
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		rlCfg := ratelimit.Config{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
		if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
			redisStore, err := ratelimit.DialRedis(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				return nil, err
			}
			rlCfg.Store = redisStore
			healthCfg.RateLimit = redisStore
		}
		limiter = ratelimit.NewLimiter(rlCfg)
		app.closers = append(app.closers, limiter.Close)
	}

	if adapter != nil {
		healthCfg.UpstreamURL = firstNonEmpty(cfg.GeminiBaseURL, gemini.DefaultBaseURL)
	}

	opts := httpserver.Options{
		Ledger:             store,
		Metrics:            metrics.NewCollector(),
		Health:             health.New(healthCfg),
		Limiter:            limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxRequestBytes:    cfg.MaxRequestBytes,
	}
	if adapter != nil {
		opts.Upstream = adapter
	}
	app.Server = httpserver.New(opts)
	app.Server.SetLogger(cfg.LogLevel, logger)
	app.Handler = app.Server.Router()

	ok = true
	return app, nil
}

// NewAdapter builds the Gemini adapter from cfg.
func NewAdapter(cfg config.Config) (*gemini.Adapter, error) {
	return gemini.New(gemini.Config{
		APIKey:         cfg.GeminiAPIKey,
		BaseURL:        cfg.GeminiBaseURL,
		Model:          cfg.GeminiModel,
		RequestTimeout: cfg.UpstreamTimeout,
	})
}

// OpenLedger opens the store named by cfg.LedgerDSN: a postgres:// URL,
// a SQLite path, or "-" for none (nil store).
func OpenLedger(cfg config.Config, logger *log.Logger) (ledger.Store, error) {
	dsn := strings.TrimSpace(cfg.LedgerDSN)
	if dsn == "" || cfg.LedgerDisabled() {
		return nil, nil
	}

	var store ledger.Store
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pg, err := postgres.New(dsn, postgres.PoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		store = pg
	} else {
		lite, err := sqlite.New(dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger %s: %w", dsn, err)
		}
		store = lite
	}

	if cfg.LedgerAsync {
		store = async.New(store, async.Config{Logger: logger})
	}
	return store, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
