package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	semver "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
)

const (
	defaultPollingIntervalSec = 60
	defaultUpdateIntervalSec  = 360
	defaultHistoryDays        = 0.25
	defaultNodeListURL        = "https://raw.githubusercontent.com/turtlecoin/turtlecoin-nodes-json/master/turtlecoin-nodes.json"
	defaultProbeTimeoutMS     = 5000
	defaultSQLitePath         = "node_monitor.sqlite3"
	defaultDatabaseName       = "turtlecoin"
	defaultMySQLPort          = 3306
	defaultPostgresPort       = 5432
	defaultMaxOpenConns       = 10
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
)

// ValidationError reports configuration that cannot be used to start the
// collector. It is always fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

type CollectorSettings struct {
	PollingIntervalSec  int     `json:"polling_interval_sec" yaml:"polling_interval_sec"`
	UpdateIntervalSec   int     `json:"update_interval_sec" yaml:"update_interval_sec"`
	HistoryDays         float64 `json:"history_days" yaml:"history_days"`
	NodeListURL         string  `json:"node_list_url" yaml:"node_list_url"`
	ProbeTimeoutMS      int     `json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
	MaxConcurrentProbes int     `json:"max_concurrent_probes" yaml:"max_concurrent_probes"`
	MinVersion          string  `json:"min_version" yaml:"min_version"`
}

type DatabaseConfig struct {
	Backend      string `json:"backend" yaml:"backend"`
	Path         string `json:"path" yaml:"path"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	User         string `json:"user" yaml:"user"`
	Password     string `json:"password" yaml:"password"`
	Name         string `json:"name" yaml:"name"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
}

type ServerConfig struct {
	HTTPPort       int      `json:"http_port" yaml:"http_port"`
	AuthToken      string   `json:"auth_token" yaml:"auth_token"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type DiscordConfig struct {
	BotToken  string `json:"bot_token" yaml:"bot_token"`
	ChannelID string `json:"channel_id" yaml:"channel_id"`
}

type AlertsConfig struct {
	Discord DiscordConfig `json:"discord" yaml:"discord"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type CollectorConfig struct {
	Collector CollectorSettings `json:"collector" yaml:"collector"`
	Database  DatabaseConfig    `json:"database" yaml:"database"`
	Server    ServerConfig      `json:"server" yaml:"server"`
	Alerts    AlertsConfig      `json:"alerts" yaml:"alerts"`
	Logging   LoggingConfig     `json:"logging" yaml:"logging"`
}

// LoadCollectorConfig reads the optional config file at path, applies
// environment overrides and defaults, and validates the result. An empty path
// skips the file.
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	return loadCollectorConfig(path, os.Getenv)
}

func loadCollectorConfig(path string, getenv func(string) string) (*CollectorConfig, error) {
	var cfg CollectorConfig

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeConfig(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg, getenv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := validateCollectorConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeConfig(path string, data []byte, cfg *CollectorConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides merges NODE_*, DB_* and MONITOR_* environment variables
// over the file values. Unset or empty variables leave the file value in place.
func applyEnvOverrides(cfg *CollectorConfig, getenv func(string) string) error {
	if v := getenv("NODE_POLLING_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("NODE_POLLING_INTERVAL", "must be an integer, got %q", v)
		}
		cfg.Collector.PollingIntervalSec = n
	}
	if v := getenv("NODE_UPDATE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("NODE_UPDATE_INTERVAL", "must be an integer, got %q", v)
		}
		cfg.Collector.UpdateIntervalSec = n
	}
	if v := getenv("NODE_HISTORY_DAYS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid("NODE_HISTORY_DAYS", "must be a number, got %q", v)
		}
		cfg.Collector.HistoryDays = f
	}
	if v := getenv("NODE_LIST_URL"); v != "" {
		cfg.Collector.NodeListURL = v
	}

	switch {
	case getenv("USE_MYSQL") != "":
		cfg.Database.Backend = BackendMySQL
	case getenv("USE_POSTGRES") != "":
		cfg.Database.Backend = BackendPostgres
	}
	if v := getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := getenv("DB_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("DB_PORT", "must be an integer, got %q", v)
		}
		cfg.Database.Port = n
	}
	if v := getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := getenv("DB_PASS"); v != "" {
		cfg.Database.Password = v
	}
	if v := getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := getenv("MONITOR_HTTP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return invalid("MONITOR_HTTP_PORT", "must be an integer, got %q", v)
		}
		cfg.Server.HTTPPort = n
	}
	if v := getenv("MONITOR_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Alerts.Discord.BotToken = v
	}
	if v := getenv("DISCORD_CHANNEL_ID"); v != "" {
		cfg.Alerts.Discord.ChannelID = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

func (cfg *CollectorConfig) applyDefaults() {
	if cfg.Collector.PollingIntervalSec <= 0 {
		cfg.Collector.PollingIntervalSec = defaultPollingIntervalSec
	}
	if cfg.Collector.UpdateIntervalSec <= 0 {
		cfg.Collector.UpdateIntervalSec = defaultUpdateIntervalSec
	}
	if cfg.Collector.HistoryDays <= 0 {
		cfg.Collector.HistoryDays = defaultHistoryDays
	}
	if cfg.Collector.NodeListURL == "" {
		cfg.Collector.NodeListURL = defaultNodeListURL
	}
	if cfg.Collector.ProbeTimeoutMS <= 0 {
		cfg.Collector.ProbeTimeoutMS = defaultProbeTimeoutMS
	}

	if cfg.Database.Backend == "" {
		cfg.Database.Backend = BackendSQLite
	}
	cfg.Database.Backend = strings.ToLower(cfg.Database.Backend)
	switch cfg.Database.Backend {
	case BackendSQLite:
		if cfg.Database.Path == "" {
			cfg.Database.Path = defaultSQLitePath
		}
	case BackendMySQL:
		if cfg.Database.Port == 0 {
			cfg.Database.Port = defaultMySQLPort
		}
	case BackendPostgres:
		if cfg.Database.Port == 0 {
			cfg.Database.Port = defaultPostgresPort
		}
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = defaultDatabaseName
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
}

func validateCollectorConfig(cfg *CollectorConfig) error {
	if !strings.HasPrefix(cfg.Collector.NodeListURL, "http://") && !strings.HasPrefix(cfg.Collector.NodeListURL, "https://") {
		return invalid("collector.node_list_url", "must be an http(s) URL, got %q", cfg.Collector.NodeListURL)
	}
	if cfg.Collector.MaxConcurrentProbes < 0 {
		return invalid("collector.max_concurrent_probes", "must be >= 0, got %d", cfg.Collector.MaxConcurrentProbes)
	}
	if cfg.Collector.MinVersion != "" {
		if _, err := semver.NewConstraint(cfg.Collector.MinVersion); err != nil {
			return invalid("collector.min_version", "must be valid semver constraint: %v", err)
		}
	}

	switch cfg.Database.Backend {
	case BackendSQLite:
	case BackendMySQL, BackendPostgres:
		if cfg.Database.Host == "" {
			return invalid("database.host", "is required for the %s backend", cfg.Database.Backend)
		}
		if cfg.Database.User == "" {
			return invalid("database.user", "is required for the %s backend", cfg.Database.Backend)
		}
		if cfg.Database.Password == "" {
			return invalid("database.password", "is required for the %s backend", cfg.Database.Backend)
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			return invalid("database.port", "must be between 1 and 65535, got %d", cfg.Database.Port)
		}
	default:
		return invalid("database.backend", "must be one of sqlite, mysql, postgres, got %q", cfg.Database.Backend)
	}

	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		return invalid("server.http_port", "must be between 0 and 65535, got %d", cfg.Server.HTTPPort)
	}

	if (cfg.Alerts.Discord.BotToken == "") != (cfg.Alerts.Discord.ChannelID == "") {
		return invalid("alerts.discord", "requires both bot_token and channel_id")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return invalid("logging.format", "must be json or console, got %q", cfg.Logging.Format)
	}

	return nil
}

func (s CollectorSettings) PollingInterval() time.Duration {
	return time.Duration(s.PollingIntervalSec) * time.Second
}

func (s CollectorSettings) UpdateInterval() time.Duration {
	return time.Duration(s.UpdateIntervalSec) * time.Second
}

// HistoryWindow is the retention window for polling rows.
func (s CollectorSettings) HistoryWindow() time.Duration {
	return time.Duration(s.HistoryDays * float64(24*time.Hour))
}

func (s CollectorSettings) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutMS) * time.Millisecond
}
