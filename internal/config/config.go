// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration of the pairing server.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR"      envDefault:":8080"`
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS"  envDefault:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT"     envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT"    envDefault:"10s"`
	TrustProxy     bool          `env:"TRUST_PROXY"      envDefault:"true"`

	// Zero HeartbeatInterval disables transport pings.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT"  envDefault:"10s"`

	// Empty RedisAddr selects the in-memory ban store and connect limiter.
	RedisAddr string `env:"REDIS_ADDR"`
	// Empty NATSURL disables moderation event publishing.
	NATSURL    string `env:"NATS_URL"`
	ServerName string `env:"SERVER_NAME"`

	// Empty AdminToken disables the operator API.
	AdminToken string `env:"ADMIN_TOKEN"`

	SpamInterval     time.Duration `env:"SPAM_INTERVAL"      envDefault:"800ms"`
	KickGrace        time.Duration `env:"KICK_GRACE"         envDefault:"500ms"`
	BanSweepInterval time.Duration `env:"BAN_SWEEP_INTERVAL" envDefault:"1m"`
	ConnectLimit     int           `env:"CONNECT_LIMIT"      envDefault:"20"`
	ExtraDenyTerms   []string      `env:"EXTRA_DENY_TERMS"   envSeparator:","`

	Policy PolicyConfig
}

// PolicyConfig carries the abuse score penalties and bands.
type PolicyConfig struct {
	SpamPenalty      int `env:"SPAM_PENALTY"      envDefault:"10"`
	ProfanityPenalty int `env:"PROFANITY_PENALTY" envDefault:"25"`
	ReportPenalty    int `env:"REPORT_PENALTY"    envDefault:"35"`
	CleanDecay       int `env:"CLEAN_DECAY"       envDefault:"1"`
	WarnAt           int `env:"WARN_AT"           envDefault:"30"`
	KickAt           int `env:"KICK_AT"           envDefault:"80"`
	BanAt            int `env:"BAN_AT"            envDefault:"100"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.WorkerPoolSize <= 0:
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	case c.MaxConnections <= 0:
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	case c.HeartbeatInterval < 0 || c.HeartbeatTimeout < 0:
		return fmt.Errorf("config: heartbeat durations must not be negative")
	case c.SpamInterval < 0:
		return fmt.Errorf("config: SPAM_INTERVAL must not be negative, got %s", c.SpamInterval)
	case c.KickGrace < 0:
		return fmt.Errorf("config: KICK_GRACE must not be negative, got %s", c.KickGrace)
	case c.BanSweepInterval <= 0:
		return fmt.Errorf("config: BAN_SWEEP_INTERVAL must be positive, got %s", c.BanSweepInterval)
	case c.ConnectLimit <= 0:
		return fmt.Errorf("config: CONNECT_LIMIT must be positive, got %d", c.ConnectLimit)
	}
	p := c.Policy
	if !(p.WarnAt > 0 && p.WarnAt < p.KickAt && p.KickAt < p.BanAt) {
		return fmt.Errorf("config: score bands must satisfy 0 < WARN_AT < KICK_AT < BAN_AT, got %d/%d/%d",
			p.WarnAt, p.KickAt, p.BanAt)
	}
	if p.SpamPenalty <= 0 || p.ProfanityPenalty <= 0 || p.ReportPenalty <= 0 || p.CleanDecay < 0 {
		return fmt.Errorf("config: penalties must be positive and decay non-negative")
	}
	return nil
}
