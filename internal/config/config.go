package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/reportd.ini"

	envPrefix = "REPORTD_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options shared by reportd, reportctl and the
// serverless entry points.
type Config struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string

	// Upstream
	GeminiAPIKey    string
	GeminiBaseURL   string
	GeminiModel     string
	UpstreamTimeout time.Duration

	MaxRequestBytes    int64
	CORSAllowedOrigins []string

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   float64
	// Empty keeps buckets in memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LedgerDSN is a SQLite path, a postgres:// URL, or "-" to disable.
	LedgerDSN   string
	LedgerAsync bool
}

// LedgerDisabled reports whether usage recording is switched off.
func (c Config) LedgerDisabled() bool {
	return strings.TrimSpace(c.LedgerDSN) == "-"
}

// LoadDotEnv loads root/.env into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(root string) error {
	if root == "" {
		root = "."
	}
	err := godotenv.Load(filepath.Join(root, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the current environment and loads the matching reportd config
// file. Environment variables win over both files.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		values := append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)
		return strings.TrimSpace(firstNonEmpty(values...))
	}

	cfg := Config{
		Environment:        s.Environment,
		HTTPAddress:        get("http_address", ":8090"),
		LogFile:            get("log_file"),
		LogLevel:           strings.ToLower(get("log_level", "info")),
		GeminiAPIKey:       strings.TrimSpace(firstNonEmpty(os.Getenv(envPrefix+"GEMINI_API_KEY"), os.Getenv("GEMINI_API_KEY"), merged["gemini_api_key"])),
		GeminiBaseURL:      get("gemini_base_url"),
		GeminiModel:        get("gemini_model"),
		CORSAllowedOrigins: parseCSV(get("cors_allowed_origins", "*")),
		RateLimitEnabled:   parseBool(get("rate_limit_enabled")),
		RedisAddr:          get("redis_addr"),
		RedisPassword:      get("redis_password"),
		RedisDB:            parseOptionalInt(get("redis_db"), 0),
		LedgerDSN:          get("ledger_dsn", DefaultLedgerPath()),
		LedgerAsync:        parseOptionalBool(get("ledger_async"), true),
	}

	if cfg.UpstreamTimeout, err = parseDuration("upstream_timeout", get("upstream_timeout", "120s")); err != nil {
		return Config{}, err
	}
	if v := get("max_request_bytes", "1048576"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid max_request_bytes %q", v)
		}
		cfg.MaxRequestBytes = n
	}
	if cfg.RateLimitRPS, err = parsePositiveFloat("rate_limit_rps", get("rate_limit_rps", "5")); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = parsePositiveFloat("rate_limit_burst", get("rate_limit_burst", "10")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		values = map[string]string{}
	} else if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENVIRONMENT"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: strings.TrimSpace(env), Defaults: defaults}, nil
}

// parseINI flattens every section of path into lower-cased keys; section
// headers only group keys for readability.
func parseINI(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, IgnoreInlineComment: true, KeyValueDelimiters: "="}, path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			values[strings.ToLower(key.Name())] = strings.TrimSpace(key.String())
		}
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

func parsePositiveFloat(key, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return f, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reportd.db"
	}
	return filepath.Join(home, ".tokligence", "reportd.db")
}
