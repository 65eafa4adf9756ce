package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tokligence/tokligence-report-proxy/internal/adapter/gemini"
	"github.com/tokligence/tokligence-report-proxy/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	Model       string
	LedgerDSN   string
	// APIKey is written to the env file only when set; prefer GEMINI_API_KEY.
	APIKey string
	Force  bool
}

// Init scaffolds config/setting.ini and config/<env>/reportd.ini.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(opts.Root, "config", opts.Environment), 0o755); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "reportd.ini")
	return writeFile(envPath, reportdTemplate(opts), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8090"
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = gemini.DefaultModel
	}
	if strings.TrimSpace(opts.LedgerDSN) == "" {
		opts.LedgerDSN = config.DefaultLedgerPath()
	}
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o600)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# reportd settings
environment=%s
log_level=info
`, opts.Environment)
}

func reportdTemplate(opts InitOptions) string {
	key := "# gemini_api_key= (or export GEMINI_API_KEY)"
	if opts.APIKey != "" {
		key = "gemini_api_key=" + opts.APIKey
	}
	return fmt.Sprintf(`# Environment specific overrides for %s
[server]
http_address=%s
# Dash '-' disables file output.
log_file=logs/reportd.log
max_request_bytes=1048576
cors_allowed_origins=*

[upstream]
%s
gemini_model=%s
upstream_timeout=120s

[limits]
rate_limit_enabled=false
rate_limit_rps=5
rate_limit_burst=10
# redis_addr=localhost:6379

[ledger]
# SQLite path, postgres:// URL, or '-' to disable.
ledger_dsn=%s
ledger_async=true
`, opts.Environment, opts.HTTPAddress, key, opts.Model, opts.LedgerDSN)
}

// Validate ensures required fields are usable without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if strings.ContainsAny(opts.Environment, `/\.`) {
		return fmt.Errorf("invalid environment name %q", opts.Environment)
	}
	if !strings.Contains(opts.HTTPAddress, ":") {
		return fmt.Errorf("http address %q must include a port", opts.HTTPAddress)
	}
	return nil
}
