package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "tcplog/internal/errors"
	"tcplog/util"
)

// GatewayConfig describes the SSH gateway and how to authenticate to it.
type GatewayConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	Password      bool // prompt for a password
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string // defaults to ~/.ssh/known_hosts
	ConnTimeout   time.Duration
	// KeepAlive is the interval between keepalive requests; zero
	// disables them.
	KeepAlive time.Duration

	// ReadSecret reads a password or key passphrase.  Nil means prompt
	// on the controlling terminal.
	ReadSecret func(prompt string) ([]byte, error)
}

// Addr returns the gateway's host:port.
func (c *GatewayConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHTunnel implements [Tunnel] with direct-tcpip channels over an
// x/crypto/ssh client.
type SSHTunnel struct {
	cfg    *GatewayConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
}

// NewSSHTunnel returns an unconnected tunnel, defaulting the port to 22
// and the handshake timeout to 30s.
func NewSSHTunnel(cfg *GatewayConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{cfg: cfg, logger: logger}
}

// Connect dials the gateway and completes the SSH handshake.  Rejected
// credentials wrap errors.ErrAuthFailed; an untrusted host key wraps
// errors.ErrHostKeyMismatch.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	cfg := t.cfg
	auth, err := BuildAuthMethods(cfg)
	if err != nil {
		return ncerr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}
	verify, err := hostKeyCallback(cfg)
	if err != nil {
		return ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	// The handshake error does not reliably wrap the callback's, so
	// remember it here.
	var (
		keyMu  sync.Mutex
		keyErr error
	)
	clientCfg := &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		HostKeyCallback: func(host string, remote net.Addr, key ssh.PublicKey) error {
			if err := verify(host, remote, key); err != nil {
				keyMu.Lock()
				keyErr = err
				keyMu.Unlock()
				return err
			}
			return nil
		},
		BannerCallback: func(msg string) error {
			t.logger.Verbose("gateway banner: %s", strings.TrimSpace(msg))
			return nil
		},
		Timeout: cfg.ConnTimeout,
	}

	addr := cfg.Addr()
	t.logger.Debug("ssh: dialing gateway %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap(ncerr.OpDial, addr, err)
	}

	// Bound the handshake by ctx as well as the timeout.
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl) //nolint:errcheck
	} else {
		conn.SetDeadline(time.Now().Add(cfg.ConnTimeout)) //nolint:errcheck
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if !stop() && err == nil {
		sshConn.Close()
		return ctx.Err()
	}
	if err != nil {
		conn.Close()
		keyMu.Lock()
		defer keyMu.Unlock()
		switch {
		case keyErr != nil:
			return ncerr.WrapSSH("hostkey", cfg.Host, cfg.Port,
				fmt.Errorf("%w: %v", ncerr.ErrHostKeyMismatch, keyErr))
		case strings.Contains(err.Error(), "unable to authenticate"):
			return ncerr.WrapSSH("auth", cfg.Host, cfg.Port,
				fmt.Errorf("%w: %v", ncerr.ErrAuthFailed, err))
		}
		return ncerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
	conn.SetDeadline(time.Time{}) //nolint:errcheck

	client := ssh.NewClient(sshConn, chans, reqs)

	t.mu.Lock()
	old := t.client
	t.client = client
	t.alive = true
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go t.watch(client)
	if cfg.KeepAlive > 0 {
		go t.keepalive(client, cfg.KeepAlive)
	}
	return nil
}

// Dial opens a direct-tcpip channel to address.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client, alive := t.client, t.alive
	t.mu.RUnlock()
	if !alive || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := client.Dial(network, address)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("via gateway %s: %w", t.cfg.Addr(), r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close disconnects from the gateway.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// IsAlive reports whether the gateway connection is up.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// watch marks the tunnel dead once client's connection ends, unless it
// has already been replaced.
func (t *SSHTunnel) watch(client *ssh.Client) {
	err := client.Wait()

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	t.logger.Debug("ssh: gateway connection ended: %v", err)
}

// keepalive pings the gateway and closes client when a ping fails, so
// the next Dial reconnects instead of hanging on a dead link.
func (t *SSHTunnel) keepalive(client *ssh.Client, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()

	for range tick.C {
		t.mu.RLock()
		current := t.client == client
		t.mu.RUnlock()
		if !current {
			return
		}
		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			t.logger.Warn("ssh: gateway keepalive failed: %v", err)
			client.Close()
			return
		}
	}
}
