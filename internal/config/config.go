// ABOUTME: Configuration loading and parsing for the conclave engine
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Roster      RosterConfig      `yaml:"roster"`
	Auth        AuthConfig        `yaml:"auth"`
	Matrix      MatrixConfig      `yaml:"matrix"`
	Commands    CommandsConfig    `yaml:"commands"`
	Engine      EngineConfig      `yaml:"engine"`
	Guard       GuardConfig       `yaml:"guard"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// JobsConfig holds the job state store configuration
type JobsConfig struct {
	Path       string        `yaml:"path"`
	MaxLetters int           `yaml:"max_letters"`
	MaxAge     time.Duration `yaml:"-"`

	MaxAgeRaw string `yaml:"max_age"`
}

// RosterConfig points at the TOML agent roster
type RosterConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MatrixConfig holds the homeserver shared by every agent session
type MatrixConfig struct {
	Homeserver  string        `yaml:"homeserver"`
	ListenRetry time.Duration `yaml:"-"`

	ListenRetryRaw string `yaml:"listen_retry"`
}

// CommandsConfig holds the chat command prefixes
type CommandsConfig struct {
	JobPrefix      string `yaml:"job_prefix"`
	ResourcePrefix string `yaml:"resource_prefix"`
}

// EngineConfig holds executor tuning
type EngineConfig struct {
	PollCount      int     `yaml:"poll_count"`
	PollBackoff    float64 `yaml:"poll_backoff"`
	TriggerDepth   int     `yaml:"trigger_depth"`
	PollDepth      int     `yaml:"poll_depth"`
	ProfileCommand string  `yaml:"profile_command"`
	HistoryCache   int     `yaml:"history_cache_size"`

	PollInterval            time.Duration `yaml:"-"`
	HistoryTTL              time.Duration `yaml:"-"`
	SocialCooldown          time.Duration `yaml:"-"`
	CooldownFallback        time.Duration `yaml:"-"`
	WrongCapabilityCooldown time.Duration `yaml:"-"`
	ChallengePause          time.Duration `yaml:"-"`
	TemporaryCapabilityTTL  time.Duration `yaml:"-"`
	CapabilityMargin        time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw            string `yaml:"poll_interval"`
	HistoryTTLRaw              string `yaml:"history_ttl"`
	SocialCooldownRaw          string `yaml:"social_cooldown"`
	CooldownFallbackRaw        string `yaml:"cooldown_fallback"`
	WrongCapabilityCooldownRaw string `yaml:"wrong_capability_cooldown"`
	ChallengePauseRaw          string `yaml:"challenge_pause"`
	TemporaryCapabilityTTLRaw  string `yaml:"temporary_capability_ttl"`
	CapabilityMarginRaw        string `yaml:"capability_margin"`
}

// GuardConfig holds per-session send pacing and breaker settings
type GuardConfig struct {
	SendBurst    int           `yaml:"send_burst"`
	MaxFailures  uint32        `yaml:"max_failures"`
	SendInterval time.Duration `yaml:"-"`
	OpenTimeout  time.Duration `yaml:"-"`

	SendIntervalRaw string `yaml:"send_interval"`
	OpenTimeoutRaw  string `yaml:"open_timeout"`
}

// SchedulerConfig holds dispatcher tuning
type SchedulerConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxAttempts int `yaml:"max_attempts"`

	Backoff         time.Duration `yaml:"-"`
	Retention       time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`
	IdleInterval    time.Duration `yaml:"-"`

	BackoffRaw         string `yaml:"backoff"`
	RetentionRaw       string `yaml:"retention"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
	IdleIntervalRaw    string `yaml:"idle_interval"`
}

// MaintenanceConfig holds cron specs for background upkeep
type MaintenanceConfig struct {
	Autosave string `yaml:"autosave"`
	Sweep    string `yaml:"sweep"`
	Probe    string `yaml:"probe"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and unset fields get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Jobs.Path == "" {
		return fmt.Errorf("jobs.path is required")
	}
	if c.Roster.Path == "" {
		return fmt.Errorf("roster.path is required")
	}
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Jobs.MaxLetters < 1 {
		return fmt.Errorf("jobs.max_letters must be positive")
	}
	if c.Engine.PollCount < 1 {
		return fmt.Errorf("engine.poll_count must be positive")
	}
	if c.Engine.PollBackoff < 0 {
		return fmt.Errorf("engine.poll_backoff must not be negative")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// ApplyDefaults fills every unset field with the production value.
func (c *Config) ApplyDefaults() {
	setInt := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	setDur := func(v *time.Duration, d time.Duration) {
		if *v == 0 {
			*v = d
		}
	}
	setStr := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}

	setInt(&c.Jobs.MaxLetters, 4)
	setDur(&c.Jobs.MaxAge, time.Hour)
	setDur(&c.Matrix.ListenRetry, 10*time.Second)
	setStr(&c.Commands.JobPrefix, "!баф")
	setStr(&c.Commands.ResourcePrefix, "!голоса")

	e := &c.Engine
	setDur(&e.PollInterval, 2*time.Second)
	setInt(&e.PollCount, 20)
	if e.PollBackoff == 0 {
		e.PollBackoff = 0.2
	}
	setInt(&e.TriggerDepth, 30)
	setInt(&e.PollDepth, 25)
	setDur(&e.HistoryTTL, 3*time.Second)
	setInt(&e.HistoryCache, 256)
	setDur(&e.SocialCooldown, 62*time.Second)
	setDur(&e.CooldownFallback, 62*time.Second)
	setDur(&e.WrongCapabilityCooldown, 300*time.Second)
	setDur(&e.ChallengePause, 60*time.Second)
	setDur(&e.TemporaryCapabilityTTL, 2*time.Hour)
	setDur(&e.CapabilityMargin, 30*time.Second)
	setStr(&e.ProfileCommand, "мой профиль")

	g := &c.Guard
	setDur(&g.SendInterval, 150*time.Millisecond)
	setInt(&g.SendBurst, 1)
	if g.MaxFailures == 0 {
		g.MaxFailures = 5
	}
	setDur(&g.OpenTimeout, 30*time.Second)

	s := &c.Scheduler
	setDur(&s.Backoff, 30*time.Second)
	setDur(&s.Retention, time.Hour)
	setDur(&s.CleanupInterval, 5*time.Minute)
	setDur(&s.IdleInterval, 200*time.Millisecond)
	setInt(&s.Concurrency, 1)
	setInt(&s.MaxAttempts, 2)

	setStr(&c.Maintenance.Autosave, "@every 30s")
	setStr(&c.Maintenance.Sweep, "@every 1m")
	setStr(&c.Maintenance.Probe, "@every 10m")

	setStr(&c.Logging.Level, "info")
	setStr(&c.Logging.Format, "text")
	setStr(&c.Metrics.Path, "/metrics")
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"jobs.max_age", cfg.Jobs.MaxAgeRaw, &cfg.Jobs.MaxAge},
		{"matrix.listen_retry", cfg.Matrix.ListenRetryRaw, &cfg.Matrix.ListenRetry},
		{"engine.poll_interval", cfg.Engine.PollIntervalRaw, &cfg.Engine.PollInterval},
		{"engine.history_ttl", cfg.Engine.HistoryTTLRaw, &cfg.Engine.HistoryTTL},
		{"engine.social_cooldown", cfg.Engine.SocialCooldownRaw, &cfg.Engine.SocialCooldown},
		{"engine.cooldown_fallback", cfg.Engine.CooldownFallbackRaw, &cfg.Engine.CooldownFallback},
		{"engine.wrong_capability_cooldown", cfg.Engine.WrongCapabilityCooldownRaw, &cfg.Engine.WrongCapabilityCooldown},
		{"engine.challenge_pause", cfg.Engine.ChallengePauseRaw, &cfg.Engine.ChallengePause},
		{"engine.temporary_capability_ttl", cfg.Engine.TemporaryCapabilityTTLRaw, &cfg.Engine.TemporaryCapabilityTTL},
		{"engine.capability_margin", cfg.Engine.CapabilityMarginRaw, &cfg.Engine.CapabilityMargin},
		{"guard.send_interval", cfg.Guard.SendIntervalRaw, &cfg.Guard.SendInterval},
		{"guard.open_timeout", cfg.Guard.OpenTimeoutRaw, &cfg.Guard.OpenTimeout},
		{"scheduler.backoff", cfg.Scheduler.BackoffRaw, &cfg.Scheduler.Backoff},
		{"scheduler.retention", cfg.Scheduler.RetentionRaw, &cfg.Scheduler.Retention},
		{"scheduler.cleanup_interval", cfg.Scheduler.CleanupIntervalRaw, &cfg.Scheduler.CleanupInterval},
		{"scheduler.idle_interval", cfg.Scheduler.IdleIntervalRaw, &cfg.Scheduler.IdleInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
