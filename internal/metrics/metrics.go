// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a tcplog proxy.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a proxy process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive  atomic.Int64
	sessionsTotal   atomic.Int64
	bytesUpstream   atomic.Int64
	bytesDownstream atomic.Int64
	dialFailures    atomic.Int64
	storageFailures atomic.Int64
	logWriteErrors  atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of sessions currently relaying.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesToUpstream records n bytes forwarded from a client to upstream.
func (c *Collector) BytesToUpstream(n int64) {
	if c == nil {
		return
	}
	c.bytesUpstream.Add(n)
}

// BytesToDownstream records n bytes forwarded from upstream to a client.
func (c *Collector) BytesToDownstream(n int64) {
	if c == nil {
		return
	}
	c.bytesDownstream.Add(n)
}

// TotalBytesUpstream returns total bytes relayed toward upstream.
func (c *Collector) TotalBytesUpstream() int64 {
	if c == nil {
		return 0
	}
	return c.bytesUpstream.Load()
}

// TotalBytesDownstream returns total bytes relayed toward clients.
func (c *Collector) TotalBytesDownstream() int64 {
	if c == nil {
		return 0
	}
	return c.bytesDownstream.Load()
}

// ── Failure metrics ──────────────────────────────────────────────────

// DialFailure records an accepted connection dropped because the
// upstream could not be reached.
func (c *Collector) DialFailure() {
	if c == nil {
		return
	}
	c.dialFailures.Add(1)
}

// DialFailures returns the number of failed upstream dials.
func (c *Collector) DialFailures() int64 {
	if c == nil {
		return 0
	}
	return c.dialFailures.Load()
}

// StorageFailure records a session aborted because its files could not
// be created.
func (c *Collector) StorageFailure() {
	if c == nil {
		return
	}
	c.storageFailures.Add(1)
}

// StorageFailures returns the number of sessions lost to storage errors.
func (c *Collector) StorageFailures() int64 {
	if c == nil {
		return 0
	}
	return c.storageFailures.Load()
}

// LogWriteError records a failed append to a capture or event sink.
func (c *Collector) LogWriteError() {
	if c == nil {
		return
	}
	c.logWriteErrors.Add(1)
}

// LogWriteErrors returns the number of failed sink appends.
func (c *Collector) LogWriteErrors() int64 {
	if c == nil {
		return 0
	}
	return c.logWriteErrors.Load()
}

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	BytesUpstream    int64  `json:"bytes_upstream"`
	BytesDownstream  int64  `json:"bytes_downstream"`
	DialFailures     int64  `json:"dial_failures"`
	StorageFailures  int64  `json:"storage_failures"`
	LogWriteErrors   int64  `json:"log_write_errors"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive:  c.sessionsActive.Load(),
		SessionsTotal:   c.sessionsTotal.Load(),
		BytesUpstream:   c.bytesUpstream.Load(),
		BytesDownstream: c.bytesDownstream.Load(),
		DialFailures:    c.dialFailures.Load(),
		StorageFailures: c.storageFailures.Load(),
		LogWriteErrors:  c.logWriteErrors.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a single-line JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.Marshal(s)
	return string(data)
}
