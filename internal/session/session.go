// Package session represents a single relayed connection lifecycle:
// who connected, when, under which file name base, and how far along
// teardown it is.
//
// The state machine Active → Closing → Closed is the exactly-once
// primitive for teardown.  Any number of goroutines may race to call
// BeginClose; exactly one of them wins and owns the shutdown.
package session

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a session.
type State int32

const (
	// Active means both sockets are relaying.
	Active State = iota
	// Closing means teardown has been claimed and is in progress.
	Closing
	// Closed means both sockets and the recorder are closed.
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session encapsulates the identity and lifecycle state of one
// accepted connection.
type Session struct {
	ID         string    // random UUID
	Base       string    // file name base for the session's output files
	RemoteAddr string    // inbound peer
	CreatedAt  time.Time // accept time

	state atomic.Int32
}

// New creates an Active session for a connection from remote accepted
// at now.
func New(remote net.Addr, now time.Time) *Session {
	id := uuid.NewString()
	addr := ""
	if remote != nil {
		addr = remote.String()
	}
	return &Session{
		ID:         id,
		Base:       FileBase(now, id),
		RemoteAddr: addr,
		CreatedAt:  now,
	}
}

// FileBase derives the output file name base from the accept time and
// the session id: "<unix-millis>-<first 8 chars of id>".
func FileBase(t time.Time, id string) string {
	return fmt.Sprintf("%d-%s", t.UnixMilli(), shortID(id))
}

// ShortID returns the abbreviated id used in console lines.
func (s *Session) ShortID() string { return shortID(s.ID) }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// BeginClose claims teardown.  It reports true for exactly one caller
// over the life of the session.
func (s *Session) BeginClose() bool {
	return s.state.CompareAndSwap(int32(Active), int32(Closing))
}

// FinishClose marks teardown complete.  It is a no-op unless the
// session is Closing.
func (s *Session) FinishClose() {
	s.state.CompareAndSwap(int32(Closing), int32(Closed))
}

// Age returns how long the session has existed.
func (s *Session) Age() time.Duration { return time.Since(s.CreatedAt) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
