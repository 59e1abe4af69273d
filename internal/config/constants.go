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

// Outbound collaborator deadlines
const (
	SMTPTimeout         = 10 * time.Second
	NotifyTimeout       = 30 * time.Second
	SettleTimeout       = 15 * time.Second
	NotifyConcurrency   = 4
	MaxRequestBodyBytes = 64 << 10
)
