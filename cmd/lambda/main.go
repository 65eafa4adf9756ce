package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/tokligence/tokligence-report-proxy/internal/bootstrap"
	"github.com/tokligence/tokligence-report-proxy/internal/config"
	"github.com/tokligence/tokligence-report-proxy/internal/logging"
	"github.com/tokligence/tokligence-report-proxy/internal/serverless"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	// CloudWatch collects stdout; the filesystem is read-only outside /tmp.
	if _, err := logging.Setup("[reportd/lambda] ", ""); err != nil {
		log.Fatalf("init log: %v", err)
	}
	if cfg.LedgerDSN == config.DefaultLedgerPath() {
		cfg.LedgerDSN = "-"
	}

	app, err := bootstrap.Build(context.Background(), cfg, logging.New("[reportd/http] "))
	if err != nil {
		log.Fatalf("build server: %v", err)
	}
	lambda.Start(serverless.NewHandler(app.Handler).Handle)
}
