package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer connects straight to the upstream.
type TCPDialer struct {
	Timeout time.Duration
	// KeepAlive is the TCP keepalive period; zero uses the OS default.
	KeepAlive time.Duration
}

// Dial connects to address.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return nd.DialContext(ctx, network, address)
}

// Close is a no-op.
func (d *TCPDialer) Close() error { return nil }
