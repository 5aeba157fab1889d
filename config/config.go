package config

import (
	"fmt"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Venue      VenueConfig      `yaml:"venue"`
	Allocator  AllocatorConfig  `yaml:"allocator"`
	Conflict   ConflictConfig   `yaml:"conflict"`
	WalkIn     WalkInConfig     `yaml:"walk_in"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	// EnableExclusionConstraint adds a GiST exclusion constraint on bookings
	// so PostgreSQL itself rejects overlapping windows on one table.
	EnableExclusionConstraint bool `yaml:"enable_exclusion_constraint"`
	LogSQL                    bool `yaml:"log_sql"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// VenueConfig describes the venue the engine serves.
type VenueConfig struct {
	Timezone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"`
}

// AllocatorConfig bounds allocation retries. MaxRetries defaults to 1 only
// when the file leaves it out; an explicit 0 disables retries.
type AllocatorConfig struct {
	MaxRetries             int `yaml:"max_retries"`
	DefaultDurationMinutes int `yaml:"default_duration_minutes"`
	MaxPartySize           int `yaml:"max_party_size"`

	retriesSet bool
}

// UnmarshalYAML records whether max_retries was given.
func (c *AllocatorConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AllocatorConfig
	var raw plain
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = AllocatorConfig(raw)
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "max_retries" {
			c.retriesSet = true
		}
	}
	return nil
}

// ConflictConfig tunes the walk-in conflict detector.
type ConflictConfig struct {
	HighOverlapMinutes   int `yaml:"high_overlap_minutes"`
	RecencyWindowMinutes int `yaml:"recency_window_minutes"`
	MaxSuggestions       int `yaml:"max_suggestions"`
}

// WalkInConfig holds defaults for walk-in seating.
type WalkInConfig struct {
	DefaultDurationMinutes int           `yaml:"default_duration_minutes"`
	SessionTTLSeconds      int           `yaml:"session_ttl_seconds"`
	SessionTTL             time.Duration `yaml:"-"`
}

// BackfillConfig holds the configuration for the unallocated-booking sweeper.
type BackfillConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	MaxAttempts     int           `yaml:"max_attempts"`
	LookaheadDays   int           `yaml:"lookahead_days"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values and resolves derived fields.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Venue.Timezone == "" {
		cfg.Venue.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Venue.Timezone)
	if err != nil {
		return fmt.Errorf("invalid venue.timezone %q: %w", cfg.Venue.Timezone, err)
	}
	cfg.Venue.Location = loc

	if cfg.Allocator.MaxRetries < 0 {
		cfg.Allocator.MaxRetries = 0
	} else if cfg.Allocator.MaxRetries == 0 && !cfg.Allocator.retriesSet {
		cfg.Allocator.MaxRetries = 1
	}
	if cfg.Allocator.DefaultDurationMinutes <= 0 {
		cfg.Allocator.DefaultDurationMinutes = 120
	}
	if cfg.Allocator.MaxPartySize <= 0 {
		cfg.Allocator.MaxPartySize = 50
	}

	if cfg.Conflict.HighOverlapMinutes <= 0 {
		cfg.Conflict.HighOverlapMinutes = 30
	}
	if cfg.Conflict.RecencyWindowMinutes <= 0 {
		cfg.Conflict.RecencyWindowMinutes = 180
	}
	if cfg.Conflict.MaxSuggestions <= 0 {
		cfg.Conflict.MaxSuggestions = 3
	}

	if cfg.WalkIn.DefaultDurationMinutes <= 0 {
		cfg.WalkIn.DefaultDurationMinutes = 90
	}
	if cfg.WalkIn.SessionTTLSeconds <= 0 {
		cfg.WalkIn.SessionTTLSeconds = 900
	}
	cfg.WalkIn.SessionTTL = time.Duration(cfg.WalkIn.SessionTTLSeconds) * time.Second

	if cfg.Backfill.IntervalSeconds <= 0 {
		cfg.Backfill.IntervalSeconds = 300
	}
	cfg.Backfill.Interval = time.Duration(cfg.Backfill.IntervalSeconds) * time.Second
	if cfg.Backfill.MaxAttempts <= 0 {
		cfg.Backfill.MaxAttempts = 100
	}
	if cfg.Backfill.LookaheadDays < 0 {
		cfg.Backfill.LookaheadDays = 0
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		// UTC always loads.
		panic(err)
	}
	return cfg
}
