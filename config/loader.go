package config

// loader.go - environment overlay.
//
// Precedence (highest wins):
//   1. CLI flags  (cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overlays TCPLOG_* variables onto cfg.  Unset, empty or
// malformed values leave the field alone.  Call it before parsing flags
// so flags win.
func LoadFromEnv(cfg *Config) {
	if v := env("OUTPUT"); v != "" {
		cfg.OutputDir = v
	}
	if v, ok := envSeconds("DIAL_TIMEOUT"); ok {
		cfg.DialTimeout = v
	}
	if envBool("NO_DNS") {
		cfg.NoDNS = true
	}

	// SOCKS5
	if v := env("SOCKS5"); v != "" {
		cfg.SOCKS5Proxy = v
	}
	if v := env("SOCKS5_USER"); v != "" {
		cfg.SOCKS5User = v
	}
	if v := env("SOCKS5_PASSWORD"); v != "" {
		cfg.SOCKS5Password = v
	}

	// SSH gateway
	if v := env("TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v, ok := envInt("TUNNEL_RETRIES"); ok {
		cfg.TunnelRetries = v
	}

	// Breaker
	if v, ok := envInt("BREAKER_FAILURES"); ok {
		cfg.BreakerFailures = v
	}
	if v, ok := envSeconds("BREAKER_RESET"); ok {
		cfg.BreakerReset = v
	}

	// Lifecycle and output
	if v, ok := envSeconds("GRACE"); ok {
		cfg.GracePeriod = v
	}
	if v, ok := envSeconds("STATS_INTERVAL"); ok {
		cfg.StatsInterval = v
	}
	if v, ok := envInt("VERBOSE"); ok {
		cfg.Verbose = v
	}
	if v := env("COLOR"); v != "" {
		cfg.Color = strings.ToLower(v)
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func envInt(key string) (int, bool) {
	n, err := strconv.Atoi(env(key))
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	switch strings.ToLower(env(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// envSeconds reads a whole number of seconds.
func envSeconds(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
