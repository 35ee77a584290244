// Package config holds the proxy's startup configuration and its
// validation.  A Config is built once by the CLI and is read-only after.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	ncerr "tcplog/internal/errors"
	"tcplog/util"
)

// Config is everything the proxy needs to start.
type Config struct {
	// ── Proxy ────────────────────────────────────────────────────────
	ListenPort   int
	UpstreamHost string
	UpstreamPort int
	OutputDir    string
	DialTimeout  time.Duration
	NoDNS        bool // upstream host must be a literal IP

	// ── SOCKS5 upstream route ────────────────────────────────────────
	SOCKS5Proxy    string // host:port
	SOCKS5User     string
	SOCKS5Password string

	// ── SSH gateway upstream route ───────────────────────────────────
	TunnelSpec     string // raw [user@]host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	TunnelRetries  int
	KeepAlive      time.Duration

	// ── Upstream circuit breaker ─────────────────────────────────────
	BreakerFailures int // 0 disables
	BreakerReset    time.Duration

	// ── Lifecycle ────────────────────────────────────────────────────
	GracePeriod   time.Duration
	StatsInterval time.Duration // 0 disables

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	Color   string // auto, always or never
	DryRun  bool
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		OutputDir:     DefaultOutputDir,
		DialTimeout:   DefaultDialTimeout,
		TunnelRetries: DefaultTunnelRetries,
		KeepAlive:     DefaultKeepAlive,
		BreakerReset:  DefaultBreakerReset,
		GracePeriod:   DefaultGracePeriod,
		Color:         DefaultColor,
		Verbose:       1,
	}
}

// UpstreamAddr returns the upstream host:port.
func (c *Config) UpstreamAddr() string {
	return util.FormatAddr(c.UpstreamHost, c.UpstreamPort)
}

// ListenAddr returns the wildcard address the proxy binds.
func (c *Config) ListenAddr() string {
	return util.ListenAddr(c.ListenPort)
}

// ── Argument parsers ─────────────────────────────────────────────────

// ParsePort parses a 1–65535 port given as the named argument.
func ParsePort(name, s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ncerr.ConfigError{Field: name, Value: s, Message: "not a number"}
	}
	if p < 1 || p > 65535 {
		return 0, &ncerr.ConfigError{Field: name, Value: p, Message: "port out of range 1-65535"}
	}
	return p, nil
}

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec splits "admin@bastion.example.com:2222" into its
// parts.  The port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec fills the Tunnel* fields from TunnelSpec.  A missing
// user falls back to $USER.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks the configuration and returns a *errors.ConfigError
// describing the first problem found.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return &ncerr.ConfigError{
			Field: "listen-port", Value: c.ListenPort,
			Message: "port out of range 1-65535",
			Hint:    "usage: tcplog [options] <listen-port> <upstream-port> <upstream-host>",
		}
	}
	if c.UpstreamPort < 1 || c.UpstreamPort > 65535 {
		return &ncerr.ConfigError{Field: "upstream-port", Value: c.UpstreamPort, Message: "port out of range 1-65535"}
	}
	if c.UpstreamHost == "" {
		return &ncerr.ConfigError{
			Field: "upstream-host", Message: "upstream host is required",
			Hint: "usage: tcplog [options] <listen-port> <upstream-port> <upstream-host>",
		}
	}
	if c.NoDNS && net.ParseIP(c.UpstreamHost) == nil {
		return &ncerr.ConfigError{
			Field: "upstream-host", Value: c.UpstreamHost,
			Message: "not an IP address and DNS is disabled",
			Hint:    "drop -n or give the upstream as an IP address",
		}
	}
	if c.OutputDir == "" {
		return &ncerr.ConfigError{Field: "output", Message: "output directory is required"}
	}

	for _, d := range []struct {
		field string
		v     time.Duration
	}{
		{"dial-timeout", c.DialTimeout},
		{"grace", c.GracePeriod},
		{"stats-interval", c.StatsInterval},
		{"breaker-reset", c.BreakerReset},
		{"keepalive", c.KeepAlive},
	} {
		if d.v < 0 {
			return &ncerr.ConfigError{Field: d.field, Value: d.v, Message: "must not be negative"}
		}
	}

	if c.BreakerFailures < 0 {
		return &ncerr.ConfigError{Field: "breaker-failures", Value: c.BreakerFailures, Message: "must not be negative"}
	}
	if c.BreakerFailures > 0 && c.BreakerReset == 0 {
		return &ncerr.ConfigError{
			Field: "breaker-reset", Value: c.BreakerReset,
			Message: "must be positive when the breaker is enabled",
			Hint:    "pass --breaker-reset SECONDS or --breaker-failures 0",
		}
	}

	if c.SOCKS5Proxy != "" {
		if c.TunnelEnabled {
			return &ncerr.ConfigError{
				Field: "socks5", Value: c.SOCKS5Proxy,
				Message: "cannot be combined with an SSH gateway",
				Hint:    "pick one of -x and -T",
			}
		}
		if _, _, err := net.SplitHostPort(c.SOCKS5Proxy); err != nil {
			return &ncerr.ConfigError{Field: "socks5", Value: c.SOCKS5Proxy, Message: "expected host:port"}
		}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "tunnel", Message: "gateway host is required"}
		}
		if c.TunnelRetries < 1 {
			return &ncerr.ConfigError{Field: "tunnel-retries", Value: c.TunnelRetries, Message: "must be at least 1"}
		}
	}

	switch c.Color {
	case "auto", "always", "never":
	default:
		return &ncerr.ConfigError{
			Field: "color", Value: c.Color,
			Message: "unknown color mode",
			Hint:    "use auto, always or never",
		}
	}
	return nil
}
