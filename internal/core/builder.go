package core

import (
	"time"

	"golang.org/x/net/proxy"

	"tcplog/config"
	"tcplog/internal/metrics"
	"tcplog/internal/retry"
	"tcplog/internal/transport"
	"tcplog/tunnel"
	"tcplog/util"
)

// Build validates cfg and assembles the proxy it describes.
func Build(cfg *config.Config, logger *util.Logger) (*ProxyMode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &ProxyMode{
		Address:       cfg.ListenAddr(),
		Upstream:      cfg.UpstreamAddr(),
		OutputDir:     cfg.OutputDir,
		Dialer:        buildDialer(cfg, logger),
		Breaker:       buildBreaker(cfg, logger),
		Logger:        logger,
		Metrics:       metrics.New(),
		GracePeriod:   cfg.GracePeriod,
		StatsInterval: cfg.StatsInterval,
	}, nil
}

// buildDialer picks the upstream route: SSH gateway, SOCKS5 proxy or a
// direct connect.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	switch {
	case cfg.TunnelEnabled:
		t := tunnel.NewSSHTunnel(&tunnel.GatewayConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			Password:      cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.DialTimeout,
			KeepAlive:     cfg.KeepAlive,
		}, logger)
		b := retry.DefaultBackoff()
		b.MaxAttempts = cfg.TunnelRetries
		return transport.NewSSHDialer(t, b, logger)

	case cfg.SOCKS5Proxy != "":
		var auth *proxy.Auth
		if cfg.SOCKS5User != "" {
			auth = &proxy.Auth{User: cfg.SOCKS5User, Password: cfg.SOCKS5Password}
		}
		return &transport.SOCKS5Dialer{
			Proxy:   cfg.SOCKS5Proxy,
			Auth:    auth,
			Timeout: cfg.DialTimeout,
		}
	}

	return &transport.TCPDialer{Timeout: cfg.DialTimeout, KeepAlive: tcpKeepAlive(cfg.KeepAlive)}
}

// tcpKeepAlive maps --keepalive onto net.Dialer, where zero means the
// OS default and a negative period disables probes.
func tcpKeepAlive(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

// buildBreaker returns nil when the breaker is disabled.
func buildBreaker(cfg *config.Config, logger *util.Logger) *retry.CircuitBreaker {
	if cfg.BreakerFailures <= 0 {
		return nil
	}
	return retry.NewCircuitBreaker(retry.BreakerConfig{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerReset,
		OnStateChange: func(from, to retry.State) {
			logger.Warn("upstream circuit %s -> %s", from, to)
		},
	})
}
