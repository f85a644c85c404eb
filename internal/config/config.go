package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"call_dashboard/internal/calls"
	"call_dashboard/internal/dates"
)

// Config holds service configuration derived from an optional file and
// environment variables.
type Config struct {
	HTTPPort        string
	Environment     string
	LogLevel        string
	LogFormat       string
	DefaultTimezone string
	DefaultDays     int
	MaxDays         int
	KVBackend       string
	DBPath          string
	Twilio          TwilioConfig
	RecordLimit     int
	ExcludedNumbers []string
	ExclusionsFile  string
	SyncSchedule    string
	SyncHistorySize int
	NoteConcurrency int
	StrictConfig    bool
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	Timeout    time.Duration
	Retries    int
}

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const (
	defaultPort            = ":8080"
	defaultEnvironment     = "local"
	defaultTimezone        = "UTC"
	defaultDays            = 7
	defaultDBPath          = "runtime/call_dashboard.db"
	defaultTwilioTimeout   = 30
	maxTwilioTimeout       = 300
	defaultSourceRetries   = 2
	maxSourceRetries       = 10
	defaultHistorySize     = 20
	maxHistorySize         = 500
	defaultNoteConcurrency = 8
	maxNoteConcurrency     = 64
)

type fileConfig struct {
	HTTPPort        string           `json:"http_port" yaml:"http_port"`
	Environment     string           `json:"environment" yaml:"environment"`
	LogLevel        string           `json:"log_level" yaml:"log_level"`
	LogFormat       string           `json:"log_format" yaml:"log_format"`
	DefaultTimezone string           `json:"default_timezone" yaml:"default_timezone"`
	DefaultDays     *int             `json:"default_days" yaml:"default_days"`
	MaxDays         *int             `json:"max_days" yaml:"max_days"`
	KVBackend       string           `json:"kv_backend" yaml:"kv_backend"`
	DBPath          string           `json:"db_path" yaml:"db_path"`
	Twilio          twilioFileConfig `json:"twilio" yaml:"twilio"`
	RecordLimit     *int             `json:"record_limit" yaml:"record_limit"`
	ExcludedNumbers []string         `json:"excluded_numbers" yaml:"excluded_numbers"`
	ExclusionsFile  string           `json:"exclusions_file" yaml:"exclusions_file"`
	Sync            syncFileConfig   `json:"sync" yaml:"sync"`
	Notes           notesFileConfig  `json:"notes" yaml:"notes"`
}

type twilioFileConfig struct {
	AccountSID string `json:"account_sid" yaml:"account_sid"`
	BaseURL    string `json:"base_url" yaml:"base_url"`
	TimeoutSec *int   `json:"timeout_sec" yaml:"timeout_sec"`
	Retries    *int   `json:"retries" yaml:"retries"`
}

type syncFileConfig struct {
	Schedule    string `json:"schedule" yaml:"schedule"`
	HistorySize *int   `json:"history_size" yaml:"history_size"`
}

type notesFileConfig struct {
	Concurrency *int `json:"concurrency" yaml:"concurrency"`
}

// Load reads .env, then the config file at path (CONFIG_PATH or config.yaml
// when empty), then environment overrides. With STRICT_CONFIG set, any
// recoverable problem becomes an error instead of a logged default.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
	}
	if path == "" {
		path = getEnv("CONFIG_PATH", "config.yaml")
	}

	fileCfg, fileErr := loadFileConfig(path)
	if fileErr != nil {
		if cfg.StrictConfig && !errors.Is(fileErr, os.ErrNotExist) {
			return cfg, fmt.Errorf("config load failed (%s): %w", path, fileErr)
		}
		if !errors.Is(fileErr, os.ErrNotExist) {
			slog.Warn("config load failed, using defaults", "path", path, "error", fileErr)
		}
	}

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") && !strings.Contains(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}
	cfg.Environment = firstNonEmpty(os.Getenv("ENVIRONMENT"), fileCfg.Environment, defaultEnvironment)
	cfg.LogLevel = strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), fileCfg.LogLevel, "info"))
	cfg.LogFormat = strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), fileCfg.LogFormat, "json"))
	cfg.KVBackend = strings.ToLower(firstNonEmpty(os.Getenv("KV_BACKEND"), fileCfg.KVBackend, BackendSQLite))
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, defaultDBPath)
	cfg.ExclusionsFile = firstNonEmpty(os.Getenv("EXCLUSIONS_FILE"), fileCfg.ExclusionsFile)
	cfg.SyncSchedule = strings.TrimSpace(firstNonEmpty(os.Getenv("SYNC_SCHEDULE"), fileCfg.Sync.Schedule))

	cfg.Twilio = TwilioConfig{
		AccountSID: firstNonEmpty(os.Getenv("TWILIO_ACCOUNT_SID"), fileCfg.Twilio.AccountSID),
		// The auth token is a secret and is read from the environment only.
		AuthToken: strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		BaseURL:   strings.TrimRight(firstNonEmpty(os.Getenv("TWILIO_BASE_URL"), fileCfg.Twilio.BaseURL), "/"),
	}

	var timeoutSec int
	ints := []struct {
		key    string
		file   *int
		def    int
		lo, hi int
		target *int
	}{
		{"DEFAULT_DAYS", fileCfg.DefaultDays, defaultDays, 1, dates.MaxRangeDays, &cfg.DefaultDays},
		{"MAX_DAYS", fileCfg.MaxDays, dates.MaxRangeDays, 1, dates.MaxRangeDays, &cfg.MaxDays},
		{"RECORD_LIMIT", fileCfg.RecordLimit, calls.MaxRecords, 1, calls.MaxRecords, &cfg.RecordLimit},
		{"TWILIO_TIMEOUT_SEC", fileCfg.Twilio.TimeoutSec, defaultTwilioTimeout, 1, maxTwilioTimeout, &timeoutSec},
		{"SOURCE_RETRIES", fileCfg.Twilio.Retries, defaultSourceRetries, 0, maxSourceRetries, &cfg.Twilio.Retries},
		{"SYNC_HISTORY_SIZE", fileCfg.Sync.HistorySize, defaultHistorySize, 1, maxHistorySize, &cfg.SyncHistorySize},
		{"NOTE_FETCH_CONCURRENCY", fileCfg.Notes.Concurrency, defaultNoteConcurrency, 1, maxNoteConcurrency, &cfg.NoteConcurrency},
	}
	for _, it := range ints {
		n := it.def
		if it.file != nil {
			n = *it.file
		}
		if v, ok, err := parseIntEnv(it.key); err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid %s: %w", it.key, err)
			}
			slog.Warn("invalid integer setting, using default", "key", it.key, "error", err, "default", n)
		} else if ok {
			n = v
		}
		*it.target = clampInt(it.key, n, it.lo, it.hi)
	}

	cfg.Twilio.Timeout = time.Duration(timeoutSec) * time.Second

	cfg.ExcludedNumbers = fileCfg.ExcludedNumbers
	if v := os.Getenv("EXCLUDED_NUMBERS"); strings.TrimSpace(v) != "" {
		cfg.ExcludedNumbers = splitList(v)
	}

	cfg.DefaultTimezone = strings.TrimSpace(firstNonEmpty(os.Getenv("DEFAULT_TIMEZONE"), fileCfg.DefaultTimezone, defaultTimezone))
	if _, err := dates.LoadZone(cfg.DefaultTimezone); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
		}
		slog.Warn("invalid default timezone, using UTC", "timezone", cfg.DefaultTimezone, "error", err)
		cfg.DefaultTimezone = defaultTimezone
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		slog.Warn("config validation failed, continuing", "error", err)
		cfg = repair(cfg)
	}
	return cfg, nil
}

// Redacted is safe to log.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"http_port":        c.HTTPPort,
		"environment":      c.Environment,
		"default_timezone": c.DefaultTimezone,
		"kv_backend":       c.KVBackend,
		"db_path":          c.DBPath,
		"twilio_account":   c.Twilio.AccountSID,
		"twilio_token_set": c.Twilio.AuthToken != "",
		"record_limit":     c.RecordLimit,
		"excluded_numbers": len(c.ExcludedNumbers),
		"exclusions_file":  c.ExclusionsFile,
		"sync_schedule":    c.SyncSchedule,
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}

func validateConfig(cfg Config) error {
	var errs []error
	switch cfg.KVBackend {
	case BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("KV_BACKEND must be %q or %q (got %q)", BackendSQLite, BackendMemory, cfg.KVBackend))
	}
	if cfg.KVBackend == BackendSQLite && strings.TrimSpace(cfg.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH is required for the sqlite backend"))
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text (got %q)", cfg.LogFormat))
	}
	if cfg.DefaultDays > cfg.MaxDays {
		errs = append(errs, fmt.Errorf("DEFAULT_DAYS %d exceeds MAX_DAYS %d", cfg.DefaultDays, cfg.MaxDays))
	}
	if cfg.SyncSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("SYNC_SCHEDULE %q: %w", cfg.SyncSchedule, err))
		}
	}
	return errors.Join(errs...)
}

// repair resets the settings validateConfig rejects.
func repair(cfg Config) Config {
	if cfg.KVBackend != BackendSQLite && cfg.KVBackend != BackendMemory {
		cfg.KVBackend = BackendMemory
	}
	if cfg.KVBackend == BackendSQLite && strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		cfg.LogFormat = "json"
	}
	if cfg.DefaultDays > cfg.MaxDays {
		cfg.DefaultDays = cfg.MaxDays
	}
	if cfg.SyncSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
			cfg.SyncSchedule = ""
		}
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func clampInt(key string, v, lo, hi int) int {
	if v < lo {
		slog.Warn("setting raised to minimum", "key", key, "value", v, "min", lo)
		return lo
	}
	if v > hi {
		slog.Warn("setting capped", "key", key, "value", v, "max", hi)
		return hi
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
