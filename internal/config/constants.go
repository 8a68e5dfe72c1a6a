package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Upper bound for one background sweep pass
const JobRunTimeout = 30 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 60

// Connection attempts per client address per minute on the streaming endpoints
const ConnectAttemptsPerMin = 30
