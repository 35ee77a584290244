// Package tunnel carries upstream connections through an SSH gateway
// when the upstream host is not directly reachable from the proxy.
package tunnel

import (
	"context"
	"net"

	ncerr "tcplog/internal/errors"
)

// Tunnel is an established path to a gateway that can open TCP
// connections on the proxy's behalf.
type Tunnel interface {
	// Connect dials and authenticates to the gateway.  Calling it on a
	// live tunnel replaces the old connection.
	Connect(ctx context.Context) error

	// Dial opens address as seen from the gateway.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}

// IsFatal reports whether a Connect error will recur on every attempt
// (bad credentials, untrusted host key) so reconnecting is pointless.
func IsFatal(err error) bool {
	return ncerr.Is(err, ncerr.ErrAuthFailed) || ncerr.Is(err, ncerr.ErrHostKeyMismatch)
}
