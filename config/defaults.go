package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Shared by the CLI flags, the environment overlay and New.

const (
	// DefaultOutputDir receives the per-session files.
	DefaultOutputDir = "./output"

	// DefaultDialTimeout bounds each upstream connect.
	DefaultDialTimeout = 30 * time.Second

	// DefaultSSHPort is the gateway port when -T omits one.
	DefaultSSHPort = 22

	// DefaultTunnelRetries is how many times the gateway connect is
	// attempted before a session's dial fails.
	DefaultTunnelRetries = 5

	// DefaultKeepAlive is the keepalive interval for direct upstream
	// connections and the SSH gateway.
	DefaultKeepAlive = 30 * time.Second

	// DefaultBreakerReset is how long an open breaker rejects dials.
	DefaultBreakerReset = 30 * time.Second

	// DefaultGracePeriod is how long in-flight sessions may keep
	// running after shutdown starts.
	DefaultGracePeriod = 5 * time.Second

	// DefaultColor selects color when stderr is a terminal.
	DefaultColor = "auto"

	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "TCPLOG_"
)
