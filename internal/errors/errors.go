// Package errors holds tcplog's error vocabulary.
//
// Startup failures and session failures look alike at the socket
// level, so every error carries enough context (operation, address or
// path) for the caller to tell them apart:
//
//	ConfigError   → *ConfigError               fatal, exit 2
//	BindError     → *NetworkError{Op: listen}  fatal, exit 1
//	DialError     → *NetworkError{Op: dial}    one client dropped
//	RelayIOError  → *NetworkError{Op: read|write}  one session ended
//	StorageError  → *StorageError              fatal at startup, one
//	                                            client dropped later
package errors

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrNotConnected means the SSH gateway link is down.
	ErrNotConnected = errors.New("gateway not connected")
	// ErrCircuitOpen means upstream dials are being refused for a while.
	ErrCircuitOpen = errors.New("upstream circuit open")
	// ErrAuthFailed means the gateway rejected every credential offered.
	ErrAuthFailed = errors.New("gateway authentication failed")
	// ErrHostKeyMismatch means the gateway's key is not trusted.
	ErrHostKeyMismatch = errors.New("gateway host key not trusted")
)

// Operations recorded in NetworkError.Op.
const (
	OpListen = "listen"
	OpAccept = "accept"
	OpDial   = "dial"
	OpRead   = "read"
	OpWrite  = "write"
)

// NetworkError is a socket operation that failed.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
	// Temporary is set when the cause may clear up by itself.
	Temporary bool
}

func (e *NetworkError) Error() string {
	if e.Addr == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StorageError is an output directory or session file that could not
// be created or written.
type StorageError struct {
	Op   string // mkdir, create, write or close
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SSHError is a failure talking to the SSH gateway.
type SSHError struct {
	Op   string // handshake, auth, hostkey
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Op, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError is a bad command line or environment value.
type ConfigError struct {
	Field   string
	Value   interface{} // nil when the value is missing
	Message string
	Hint    string // shown on its own line when set
}

func (e *ConfigError) Error() string {
	var prefix string
	switch {
	case e.Field != "" && e.Value != nil:
		prefix = fmt.Sprintf("%s=%v: ", e.Field, e.Value)
	case e.Field != "":
		prefix = e.Field + ": "
	}
	s := "config: " + prefix + e.Message
	if e.Hint != "" {
		s += "\n  hint: " + e.Hint
	}
	return s
}

// Wrap records a failed socket operation on addr.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err, Temporary: temporary(err)}
}

// WrapStorage records a failed file operation on path.
func WrapStorage(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Path: path, Err: err}
}

// WrapSSH records a failed gateway operation.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// IsBindError reports whether err is a failure to bind the listen port.
func IsBindError(err error) bool { return hasOp(err, OpListen) }

// IsDialError reports whether err is a failure to reach the upstream.
func IsDialError(err error) bool { return hasOp(err, OpDial) }

// IsRelayIOError reports whether err is a mid-session socket failure.
func IsRelayIOError(err error) bool {
	return hasOp(err, OpRead) || hasOp(err, OpWrite)
}

// IsStorageError reports whether err came from the output files.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsConfigError reports whether err is a configuration problem.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTemporary reports whether err may clear up if the operation is
// simply tried again, such as an accept hitting the fd limit.
func IsTemporary(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Temporary
	}
	return temporary(err)
}

func hasOp(err error, op string) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Op == op
}

// temporary asks the first error in the chain that knows.
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return err != nil && errors.As(err, &t) && t.Temporary()
}

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }
