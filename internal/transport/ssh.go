package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ncerr "tcplog/internal/errors"
	"tcplog/internal/retry"
	"tcplog/tunnel"
	"tcplog/util"
)

// SSHDialer reaches the upstream through an SSH gateway.  The gateway
// is connected on the first Dial and reconnected whenever it has died.
type SSHDialer struct {
	tunnel  tunnel.Tunnel
	backoff retry.Backoff
	logger  *util.Logger

	mu sync.Mutex
}

// NewSSHDialer wraps t.  Connecting is retried per b; credential and
// host key failures are never retried.
func NewSSHDialer(t tunnel.Tunnel, b *retry.Backoff, logger *util.Logger) *SSHDialer {
	if b == nil {
		b = retry.DefaultBackoff()
	}
	bo := *b
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("ssh gateway: attempt %d failed: %v (retrying in %v)",
			attempt, err, wait.Truncate(time.Millisecond))
	}
	return &SSHDialer{tunnel: t, backoff: bo, logger: logger}
}

// ensure connects the gateway unless it is already up.
func (d *SSHDialer) ensure(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel.IsAlive() {
		return nil
	}
	d.logger.Verbose("connecting ssh gateway")
	err := d.backoff.Do(ctx, func(int) error {
		err := d.tunnel.Connect(ctx)
		if err != nil && tunnel.IsFatal(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("ssh gateway: %w", err)
	}
	d.logger.Verbose("ssh gateway connected")
	return nil
}

// Dial opens address from the gateway's side.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	conn, err := d.tunnel.Dial(ctx, network, address)
	if errors.Is(err, ncerr.ErrNotConnected) {
		// died between ensure and Dial
		if err := d.ensure(ctx); err != nil {
			return nil, err
		}
		conn, err = d.tunnel.Dial(ctx, network, address)
	}
	return conn, err
}

// Close disconnects the gateway.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnel.Close()
}
