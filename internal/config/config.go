// Package config loads runtime configuration for the collaboration hub
// from environment variables, with an optional local .env file for
// development convenience.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for collabhubd.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Broadcast BroadcastConfig
	Reaper    ReaperConfig
	Timeout   TimeoutConfig
	Storage   StorageConfig
	Logging   LoggingConfig
}

// ServerConfig contains network-level settings for the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr         string        `env:"COLLAB_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"COLLAB_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"COLLAB_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout  time.Duration `env:"COLLAB_IDLE_TIMEOUT" envDefault:"120s"`
}

// WebSocketConfig controls per-connection websocket behavior (§6).
type WebSocketConfig struct {
	BufferCapacity       int `env:"WS_BUFFER_CAPACITY" envDefault:"100"`
	PingPerSecs          int `env:"WS_PING_PER_SECS" envDefault:"6"`
	RetryConnectPerPings int `env:"WS_RETRY_CONNECT_PER_PINGS" envDefault:"5"`
}

// BroadcastConfig controls the per-group fan-out channel (§4.3).
type BroadcastConfig struct {
	ChannelCapacity int `env:"BROADCAST_CHANNEL_CAPACITY" envDefault:"10"`
}

// ReaperConfig controls the group-cache inactivity sweep (§4.1).
type ReaperConfig struct {
	IntervalSecs int `env:"REAPER_INTERVAL_SECS" envDefault:"60"`
	MaxPerTick   int `env:"REAPER_MAX_PER_TICK" envDefault:"5"`
}

// TimeoutConfig holds the per-CollabType inactivity timeout table (§4.2).
type TimeoutConfig struct {
	Document      time.Duration `env:"TIMEOUT_DOCUMENT" envDefault:"10m"`
	Database      time.Duration `env:"TIMEOUT_DATABASE" envDefault:"60m"`
	WorkspaceEtc  time.Duration `env:"TIMEOUT_WORKSPACE_ETC" envDefault:"120m"`
	Debug         bool          `env:"TIMEOUT_DEBUG" envDefault:"false"`
	DebugDuration time.Duration `env:"TIMEOUT_DEBUG_DURATION" envDefault:"2m"`
}

// StorageConfig controls the storage plugin flush policy (§4.5).
type StorageConfig struct {
	DatabaseURL        string `env:"COLLAB_DATABASE_URL" envDefault:"postgres://localhost/collab?sslmode=disable"`
	FlushThresholdByte int    `env:"STORAGE_FLUSH_THRESHOLD_BYTES" envDefault:"65536"`
}

// LoggingConfig controls zerolog level/format.
type LoggingConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Format      string `env:"LOG_FORMAT" envDefault:"json"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: environment variables > .env file > struct defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is fine; production deployments set real env vars.
		_ = err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configuration combinations that would make the hub
// misbehave rather than letting them surface as confusing runtime errors.
func (c *Config) Validate() error {
	if c.WebSocket.BufferCapacity <= 0 {
		return fmt.Errorf("ws.buffer_capacity must be positive, got %d", c.WebSocket.BufferCapacity)
	}
	if c.Broadcast.ChannelCapacity <= 0 {
		return fmt.Errorf("broadcast.channel_capacity must be positive, got %d", c.Broadcast.ChannelCapacity)
	}
	if c.Reaper.IntervalSecs <= 0 {
		return fmt.Errorf("reaper.interval_secs must be positive, got %d", c.Reaper.IntervalSecs)
	}
	if c.Reaper.MaxPerTick <= 0 {
		return fmt.Errorf("reaper.max_per_tick must be positive, got %d", c.Reaper.MaxPerTick)
	}
	return nil
}
