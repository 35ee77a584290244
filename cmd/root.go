// Package cmd wires up the CLI flags and starts the proxy.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"tcplog/config"
	"tcplog/internal/core"
	ncerr "tcplog/internal/errors"
	"tcplog/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X tcplog/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

const usageLine = "tcplog [options] <listen-port> <upstream-port> <upstream-host>"

// Execute parses args and runs the proxy until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	inv, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	if inv.showHelp {
		printUsage(stdout, inv.fs)
		return nil
	}
	if inv.showVersion {
		fmt.Fprintf(stdout, "tcplog %s\n", version)
		return nil
	}
	cfg := inv.cfg

	logger := util.NewLogger(cfg.Verbose)
	logger.SetOutput(stderr)
	logger.SetColor(useColor(cfg.Color, stderr))
	defer logger.Sync() //nolint:errcheck

	if cfg.DryRun {
		fmt.Fprintf(stdout, "listen %s -> %s via %s, recording to %s\n",
			cfg.ListenAddr(), cfg.UpstreamAddr(), route(cfg), cfg.OutputDir)
		return nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return ncerr.WrapStorage("mkdir", cfg.OutputDir, err)
	}

	proxy, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	var mode core.Mode = proxy
	return mode.Run(ctx)
}

type invocation struct {
	cfg         *config.Config
	fs          *flag.FlagSet
	showHelp    bool
	showVersion bool
}

// parseArgs builds the Config from defaults, then TCPLOG_* variables,
// then flags and positional arguments.  Every failure is a ConfigError.
func parseArgs(args []string, stderr io.Writer) (*invocation, error) {
	cfg := config.New()
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("tcplog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inv := &invocation{cfg: cfg, fs: fs}

	// ── proxy ────────────────────────────────────────────────────
	fs.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Directory for session files")
	dialTimeout := fs.IntP("dial-timeout", "w", seconds(cfg.DialTimeout), "Upstream connect timeout in seconds")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Upstream host must be an IP address")

	// ── upstream routes ──────────────────────────────────────────
	fs.StringVarP(&cfg.SOCKS5Proxy, "socks5", "x", cfg.SOCKS5Proxy, "Reach the upstream through a SOCKS5 proxy host:port")
	fs.StringVar(&cfg.SOCKS5User, "socks5-user", cfg.SOCKS5User, "SOCKS5 user (password from TCPLOG_SOCKS5_PASSWORD)")
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the upstream through an SSH gateway [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for the SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use the SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify the gateway host key")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.IntVar(&cfg.TunnelRetries, "tunnel-retries", cfg.TunnelRetries, "Gateway connect attempts per dial")
	keepAlive := fs.Int("keepalive", seconds(cfg.KeepAlive), "Keepalive interval in seconds for the upstream or SSH gateway (0 disables)")

	// ── resilience and lifecycle ─────────────────────────────────
	fs.IntVar(&cfg.BreakerFailures, "breaker-failures", cfg.BreakerFailures, "Open the upstream circuit after N failed dials (0 disables)")
	breakerReset := fs.Int("breaker-reset", seconds(cfg.BreakerReset), "Seconds an open circuit rejects dials")
	grace := fs.Int("grace", seconds(cfg.GracePeriod), "Seconds sessions may run after shutdown starts")
	stats := fs.Int("stats-interval", seconds(cfg.StatsInterval), "Log a metrics snapshot every N seconds (0 disables)")

	// ── output ───────────────────────────────────────────────────
	var verbosity int
	var quiet bool
	fs.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.StringVar(&cfg.Color, "color", cfg.Color, "Colorize log output: auto, always or never")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&inv.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&inv.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, &ncerr.ConfigError{Message: err.Error(), Hint: "usage: " + usageLine}
	}
	if inv.showHelp || inv.showVersion {
		return inv, nil
	}

	rest := fs.Args()
	if len(rest) != 3 {
		printUsage(stderr, fs)
		return nil, &ncerr.ConfigError{
			Field:   "arguments",
			Message: fmt.Sprintf("expected 3 arguments, got %d", len(rest)),
		}
	}

	var err error
	if cfg.ListenPort, err = config.ParsePort("listen-port", rest[0]); err != nil {
		return nil, err
	}
	if cfg.UpstreamPort, err = config.ParsePort("upstream-port", rest[1]); err != nil {
		return nil, err
	}
	cfg.UpstreamHost = rest[2]

	cfg.DialTimeout = time.Duration(*dialTimeout) * time.Second
	cfg.KeepAlive = time.Duration(*keepAlive) * time.Second
	cfg.BreakerReset = time.Duration(*breakerReset) * time.Second
	cfg.GracePeriod = time.Duration(*grace) * time.Second
	cfg.StatsInterval = time.Duration(*stats) * time.Second

	cfg.Verbose += verbosity
	if quiet {
		cfg.Verbose = 0
	}

	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func seconds(d time.Duration) int { return int(d / time.Second) }

// useColor resolves --color.  "auto" means stderr is a terminal.
func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func route(cfg *config.Config) string {
	switch {
	case cfg.TunnelEnabled:
		return fmt.Sprintf("ssh %s@%s", cfg.TunnelUser, util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort))
	case cfg.SOCKS5Proxy != "":
		return "socks5 " + cfg.SOCKS5Proxy
	}
	return "direct"
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `tcplog v%s

A TCP relay that records every session it forwards.

Usage:
  %s

Each accepted client is connected to <upstream-host>:<upstream-port>.
Its traffic is written to <output>/<id>.upstream and <id>.downstream,
with a timestamped event log in <id>.meta.

Options:
`, version, usageLine)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Environment:
  TCPLOG_OUTPUT, TCPLOG_DIAL_TIMEOUT, TCPLOG_SOCKS5, TCPLOG_SOCKS5_USER,
  TCPLOG_SOCKS5_PASSWORD, TCPLOG_TUNNEL, TCPLOG_SSH_KEY, TCPLOG_GRACE,
  TCPLOG_VERBOSE, TCPLOG_COLOR and friends set defaults; flags win.

Examples:
  tcplog 8080 80 example.com                  Record HTTP to example.com
  tcplog -o /tmp/caps 2525 25 10.0.0.9        Record SMTP into /tmp/caps
  tcplog -x 127.0.0.1:1080 8443 443 intranet  Upstream via SOCKS5
  tcplog -T admin@bastion 5432 5432 db        Upstream via SSH gateway
`)
}
