package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const minJWTSecretLength = 32

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL,required"`
	JWTSecret              string `env:"JWT_SECRET,required"`
	JWTIssuer              string `env:"JWT_ISSUER" envDefault:""`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	HeartbeatSeconds       int    `env:"HEARTBEAT_SECONDS" envDefault:"30"`
	SignalTTLSeconds       int    `env:"SIGNAL_TTL_SECONDS" envDefault:"30"`
	WaitingStaleSeconds    int    `env:"WAITING_STALE_SECONDS" envDefault:"300"`
	MatchSweepSeconds      int    `env:"MATCH_SWEEP_SECONDS" envDefault:"2"`
	CleanupSeconds         int    `env:"CLEANUP_SECONDS" envDefault:"60"`
	TypingTimeoutSeconds   int    `env:"TYPING_TIMEOUT_SECONDS" envDefault:"3"`
	CallRingTimeoutSeconds int    `env:"CALL_RING_TIMEOUT_SECONDS" envDefault:"45"`
	SessionRetentionSecs   int    `env:"SESSION_RETENTION_SECONDS" envDefault:"600"`
	RateLimitPerMin        int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
	SocketMessagesPerMin   int    `env:"SOCKET_MESSAGES_PER_MIN" envDefault:"600"`
	CallOffersPerMin       int    `env:"CALL_OFFERS_PER_MIN" envDefault:"30"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c *Config) SignalTTL() time.Duration {
	return time.Duration(c.SignalTTLSeconds) * time.Second
}

func (c *Config) WaitingStaleAfter() time.Duration {
	return time.Duration(c.WaitingStaleSeconds) * time.Second
}

func (c *Config) MatchSweepInterval() time.Duration {
	return time.Duration(c.MatchSweepSeconds) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupSeconds) * time.Second
}

func (c *Config) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutSeconds) * time.Second
}

// CallRingTimeout is zero when ringing calls should never expire.
func (c *Config) CallRingTimeout() time.Duration {
	if c.CallRingTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CallRingTimeoutSeconds) * time.Second
}

func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionSecs) * time.Second
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters (generate with: openssl rand -base64 32)", minJWTSecretLength)
	}

	intervals := map[string]int{
		"HEARTBEAT_SECONDS":      c.HeartbeatSeconds,
		"SIGNAL_TTL_SECONDS":     c.SignalTTLSeconds,
		"WAITING_STALE_SECONDS":  c.WaitingStaleSeconds,
		"MATCH_SWEEP_SECONDS":    c.MatchSweepSeconds,
		"CLEANUP_SECONDS":        c.CleanupSeconds,
		"TYPING_TIMEOUT_SECONDS": c.TypingTimeoutSeconds,
	}
	for name, value := range intervals {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
