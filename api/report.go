// Package handler is the Vercel Go runtime entry point. Every route of the
// report proxy is served through Handler.
package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/tokligence/tokligence-report-proxy/internal/bootstrap"
	"github.com/tokligence/tokligence-report-proxy/internal/config"
	"github.com/tokligence/tokligence-report-proxy/internal/logging"
)

var (
	once    sync.Once
	router  http.Handler
	initErr error
)

func setup() {
	cfg, err := config.Load(".")
	if err != nil {
		initErr = err
		return
	}
	if cfg.LedgerDSN == config.DefaultLedgerPath() {
		cfg.LedgerDSN = "-"
	}
	app, err := bootstrap.Build(context.Background(), cfg, logging.New("[reportd/vercel] "))
	if err != nil {
		initErr = err
		return
	}
	router = app.Handler
}

// Handler serves one Vercel invocation.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		log.Printf("[reportd/vercel] init: %v", initErr)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal Server Error"})
		return
	}
	router.ServeHTTP(w, r)
}
