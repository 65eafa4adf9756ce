package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tokligence/tokligence-report-proxy/internal/config"
	"github.com/tokligence/tokligence-report-proxy/internal/ledger/async"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:        tmp,
		HTTPAddress: ":9000",
		LedgerDSN:   "-",
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if !strings.Contains(string(settingBytes), "environment=dev") {
		t.Fatalf("missing environment: %s", settingBytes)
	}

	envBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "reportd.ini"))
	if err != nil {
		t.Fatalf("read reportd.ini: %v", err)
	}
	content := string(envBytes)
	for _, want := range []string{"http_address=:9000", "ledger_dsn=-", "# gemini_api_key="} {
		if !strings.Contains(content, want) {
			t.Fatalf("missing %q: %s", want, content)
		}
	}

	// the scaffold must load back through config
	for _, key := range []string{"GEMINI_API_KEY", "REPORTD_GEMINI_API_KEY", "REPORTD_ENVIRONMENT", "REPORTD_HTTP_ADDRESS"} {
		t.Setenv(key, "")
	}
	cfg, err := config.Load(tmp)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if cfg.HTTPAddress != ":9000" || !cfg.LedgerDisabled() {
		t.Fatalf("scaffold not honoured: %+v", cfg)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(InitOptions{Environment: "../prod"}); err == nil {
		t.Fatal("expected error for path-like environment")
	}
	if err := Validate(InitOptions{HTTPAddress: "8090"}); err == nil {
		t.Fatal("expected error for address without port")
	}
	if err := Validate(InitOptions{}); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestBuildWithoutCredential(t *testing.T) {
	app, err := Build(context.Background(), config.Config{LedgerDSN: "-"}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer app.Close()
	if app.Adapter != nil {
		t.Fatal("expected no adapter without api key")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/report", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "API key not configured") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestOpenLedgerSelectsBackend(t *testing.T) {
	store, err := OpenLedger(config.Config{LedgerDSN: "-"}, nil)
	if err != nil || store != nil {
		t.Fatalf("expected disabled ledger, got %v %v", store, err)
	}

	path := filepath.Join(t.TempDir(), "reports.db")
	store, err = OpenLedger(config.Config{LedgerDSN: path, LedgerAsync: true}, nil)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*async.Store); !ok {
		t.Fatalf("expected async wrapper, got %T", store)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sqlite file not created: %v", err)
	}
}
