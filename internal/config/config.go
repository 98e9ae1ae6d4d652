package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Leshaka/lunodog-bot/internal/ratelimit"
)

// Environment variables read by Load.
const (
	EnvConfigPath   = "LUNODOG_CONFIG"
	EnvDiscordToken = "DISCORD_BOT_TOKEN"
	EnvDatabaseURL  = "LUNODOG_DATABASE_URL"
)

// DefaultPath is used when neither a flag nor LUNODOG_CONFIG names a file.
const DefaultPath = "lunodog.yaml"

// Config is the main configuration structure for lunodog.
type Config struct {
	Version  int            `yaml:"version"`
	Discord  DiscordConfig  `yaml:"discord"`
	Database DatabaseConfig `yaml:"database"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type DiscordConfig struct {
	Token       string           `yaml:"token"`
	AppID       string           `yaml:"app_id"`
	DevGuildID  string           `yaml:"dev_guild_id"` // register commands on one guild only
	CommandName string           `yaml:"command_name"`
	Reconnect   ReconnectConfig  `yaml:"reconnect"`
	CommandRate ratelimit.Config `yaml:"command_rate"`
}

// ReconnectConfig bounds the gateway connect retry loop.
type ReconnectConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type DatabaseConfig struct {
	// Driver is memory, postgres (alias cockroach), or sqlite.
	Driver          string        `yaml:"driver" jsonschema:"enum=memory,enum=postgres,enum=cockroach,enum=sqlite"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     *bool         `yaml:"auto_migrate"`
	Cache           CacheConfig   `yaml:"cache"`
}

// MigrateOnStart reports whether serve applies pending migrations.
func (d DatabaseConfig) MigrateOnStart() bool {
	return d.AutoMigrate == nil || *d.AutoMigrate
}

// CacheConfig enables the Redis record cache when Addr or URL is set.
type CacheConfig struct {
	Addr      string        `yaml:"addr"`
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// Enabled reports whether a Redis endpoint is configured.
func (c CacheConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != "" || strings.TrimSpace(c.URL) != ""
}

// EventsConfig enables cross-process change events when NATSURL is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LoggingConfig struct {
	Level     string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format    string `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ConfigValidationError collects every problem found in a config file.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// ResolvePath picks the config file: the explicit path, then
// LUNODOG_CONFIG, then DefaultPath if it exists. It returns "" when no file
// applies.
func ResolvePath(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load reads, defaults, and validates the configuration file. An empty path
// yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv(EnvDiscordToken)); token != "" {
		cfg.Discord.Token = token
	}
	if url := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); url != "" {
		cfg.Database.URL = url
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Discord.CommandName == "" {
		cfg.Discord.CommandName = "config"
	}
	if cfg.Discord.CommandRate.PerMinute == 0 && cfg.Discord.CommandRate.Burst == 0 {
		rate := ratelimit.DefaultConfig()
		rate.Disabled = cfg.Discord.CommandRate.Disabled
		cfg.Discord.CommandRate = rate
	}
	if cfg.Discord.Reconnect.MaxAttempts == 0 {
		cfg.Discord.Reconnect.MaxAttempts = 8
	}
	if cfg.Discord.Reconnect.InitialInterval == 0 {
		cfg.Discord.Reconnect.InitialInterval = time.Second
	}
	if cfg.Discord.Reconnect.MaxInterval == 0 {
		cfg.Discord.Reconnect.MaxInterval = time.Minute
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 2 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.Cache.TTL == 0 {
		cfg.Database.Cache.TTL = 10 * time.Minute
	}
	if cfg.Database.Cache.KeyPrefix == "" {
		cfg.Database.Cache.KeyPrefix = "lunodog:config:"
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "lunodog"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "lunodog"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string

	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres", "cockroach":
		if strings.TrimSpace(c.Database.URL) == "" {
			issues = append(issues, fmt.Sprintf("database.url is required for driver %q", c.Database.Driver))
		}
	default:
		issues = append(issues, fmt.Sprintf("database.driver must be memory, postgres, cockroach, or sqlite (got %q)", c.Database.Driver))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		issues = append(issues, "database connection limits must not be negative")
	}
	if c.Database.Cache.TTL < 0 {
		issues = append(issues, "database.cache.ttl must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		issues = append(issues, "metrics.path must start with /")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate must be between 0 and 1")
	}
	if c.Discord.CommandRate.PerMinute < 0 || c.Discord.CommandRate.Burst < 0 {
		issues = append(issues, "discord.command_rate values must not be negative")
	}
	if c.Discord.Reconnect.MaxInterval < c.Discord.Reconnect.InitialInterval {
		issues = append(issues, "discord.reconnect.max_interval must be at least initial_interval")
	}
	if strings.ContainsAny(c.Discord.CommandName, " \t") || strings.ToLower(c.Discord.CommandName) != c.Discord.CommandName {
		issues = append(issues, "discord.command_name must be lowercase without spaces")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// ErrMissingToken is returned by RequireDiscord when no bot token is set.
var ErrMissingToken = errors.New("discord.token is required (or set " + EnvDiscordToken + ")")

// RequireDiscord checks the settings needed to talk to Discord.
func (c *Config) RequireDiscord() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return ErrMissingToken
	}
	return nil
}
