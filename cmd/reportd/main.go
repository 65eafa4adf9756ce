package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokligence/tokligence-report-proxy/internal/bootstrap"
	"github.com/tokligence/tokligence-report-proxy/internal/config"
	"github.com/tokligence/tokligence-report-proxy/internal/logging"
	"github.com/tokligence/tokligence-report-proxy/internal/version"
)

func main() {
	if err := config.LoadDotEnv("."); err != nil {
		log.Fatalf("load .env failed: %v", err)
	}
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logCloser, err := logging.Setup("[reportd] ", cfg.LogFile)
	if err != nil {
		log.Fatalf("init rotating log: %v", err)
	}
	defer logCloser.Close()

	log.Printf("reportd %s environment=%s model=%s", version.Version, cfg.Environment, cfg.GeminiModel)

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, logging.New("[reportd/http] "))
	if err != nil {
		log.Fatalf("build server: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()
	if cfg.LedgerDisabled() {
		log.Printf("usage ledger disabled")
	}
	if cfg.RateLimitEnabled {
		log.Printf("rate limit enabled rps=%.2f burst=%.0f redis=%q", cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RedisAddr)
	}

	srv := &http.Server{
		Addr:        cfg.HTTPAddress,
		Handler:     app.Handler,
		ReadTimeout: 15 * time.Second,
		// Streams last as long as the upstream generation; UpstreamTimeout bounds them.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("report proxy listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
