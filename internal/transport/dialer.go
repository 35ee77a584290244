// Package transport opens the proxy's upstream connections: directly,
// through a SOCKS5 proxy or through an SSH gateway.
package transport

import (
	"context"
	"net"
)

// Dialer opens one upstream connection per accepted client.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived state such as a gateway session.
	// Stateless dialers return nil.
	Close() error
}
