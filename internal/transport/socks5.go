package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// SOCKS5Dialer reaches the upstream through a SOCKS5 proxy.  The
// upstream name is resolved by the proxy, not locally.
type SOCKS5Dialer struct {
	Proxy   string      // host:port of the SOCKS5 server
	Auth    *proxy.Auth // nil for no authentication
	Timeout time.Duration
}

// Dial asks the proxy to connect to address.
func (d *SOCKS5Dialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	forward := &net.Dialer{Timeout: d.Timeout}
	pd, err := proxy.SOCKS5("tcp", d.Proxy, d.Auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", d.Proxy, err)
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var conn net.Conn
	if cd, ok := pd.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, address)
	} else {
		conn, err = pd.Dial(network, address)
	}
	if err != nil {
		return nil, fmt.Errorf("via socks5 %s: %w", d.Proxy, err)
	}
	return conn, nil
}

// Close is a no-op; each Dial uses its own proxy connection.
func (d *SOCKS5Dialer) Close() error { return nil }
