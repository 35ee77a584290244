// Package recorder persists one relayed session to disk: a raw capture
// file per direction plus a timestamped, human-readable event log.
//
// Recording is best-effort.  Once Open succeeds, no method returns a
// write error; failures are counted and logged so that a full disk or a
// revoked file never interrupts the relay itself.
package recorder

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ncerr "tcplog/internal/errors"
	"tcplog/internal/metrics"
	"tcplog/internal/session"
	"tcplog/util"
)

// Direction identifies which way a chunk of bytes travelled.
type Direction int

const (
	// ToUpstream is inbound client → upstream server.
	ToUpstream Direction = iota
	// ToDownstream is upstream server → inbound client.
	ToDownstream
)

func (d Direction) String() string {
	if d == ToUpstream {
		return "upstream"
	}
	return "downstream"
}

// arrow renders the direction the way the event log shows it.
func (d Direction) arrow() string {
	if d == ToUpstream {
		return "->"
	}
	return "<-"
}

// File name suffixes of a session's outputs.
const (
	MetaExt       = ".meta"
	UpstreamExt   = ".upstream"
	DownstreamExt = ".downstream"
)

// TimeLayout prefixes every event log line (UTC).
const TimeLayout = "2006-01-02 15:04:05"

// Sinks are the three append-only outputs of a session.
type Sinks struct {
	Meta       io.WriteCloser
	Upstream   io.WriteCloser
	Downstream io.WriteCloser
}

// Paths names the files behind a recorder created by Open.
type Paths struct {
	Meta       string
	Upstream   string
	Downstream string
}

// Recorder writes one session's capture files and event log.
//
// Each capture sink is written only by the copy loop of its own
// direction; the event sink is shared and serialised by metaMu.  All
// writers hold sinkMu for reading so Close can wait them out.
type Recorder struct {
	sess    *session.Session
	paths   Paths
	logger  *util.Logger
	metrics *metrics.Collector
	now     func() time.Time

	sinkMu     sync.RWMutex
	closed     bool
	upstream   io.WriteCloser
	downstream io.WriteCloser

	metaMu sync.Mutex
	meta   io.WriteCloser

	writeErrors atomic.Int64
	warned      atomic.Bool
}

// Open creates the session's three files under dir.  Files are created
// exclusively, so two sessions can never end up sharing one.  If any
// file cannot be created the ones already made are removed and a
// StorageError is returned.
func Open(dir string, sess *session.Session, logger *util.Logger, m *metrics.Collector) (*Recorder, error) {
	base := filepath.Join(dir, sess.Base)
	paths := Paths{
		Meta:       base + MetaExt,
		Upstream:   base + UpstreamExt,
		Downstream: base + DownstreamExt,
	}

	var created []*os.File
	cleanup := func() {
		for _, f := range created {
			f.Close()
			os.Remove(f.Name())
		}
	}

	for _, p := range []string{paths.Meta, paths.Upstream, paths.Downstream} {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			cleanup()
			return nil, ncerr.WrapStorage("create", p, err)
		}
		created = append(created, f)
	}

	r := New(sess, Sinks{Meta: created[0], Upstream: created[1], Downstream: created[2]}, logger, m)
	r.paths = paths
	return r, nil
}

// New builds a recorder over arbitrary sinks.
func New(sess *session.Session, sinks Sinks, logger *util.Logger, m *metrics.Collector) *Recorder {
	return &Recorder{
		sess:       sess,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		meta:       sinks.Meta,
		upstream:   sinks.Upstream,
		downstream: sinks.Downstream,
	}
}

// Paths returns the file paths for a recorder created by Open.
func (r *Recorder) Paths() Paths { return r.paths }

// Session returns the session this recorder belongs to.
func (r *Recorder) Session() *session.Session { return r.sess }

// WriteErrors returns how many sink writes have failed so far.
func (r *Recorder) WriteErrors() int64 { return r.writeErrors.Load() }

// RecordEvent appends a timestamped line to the event log and mirrors
// it to the console.  It is a no-op after Close.
func (r *Recorder) RecordEvent(format string, args ...interface{}) {
	text := sprintf(format, args...)

	r.sinkMu.RLock()
	if r.closed {
		r.sinkMu.RUnlock()
		return
	}
	r.appendEvent(text)
	r.sinkMu.RUnlock()

	r.logger.Info("[%s] %s", r.sess.ShortID(), text)
}

// RecordBytes appends p to the capture file for d and logs a one-line
// summary of the transfer.  The payload itself never enters the event
// log.  It is a no-op after Close.
func (r *Recorder) RecordBytes(d Direction, p []byte) {
	if len(p) == 0 {
		return
	}
	summary := sprintf("(client %s) %s (server) %d bytes", r.sess.RemoteAddr, d.arrow(), len(p))

	r.sinkMu.RLock()
	if r.closed {
		r.sinkMu.RUnlock()
		return
	}
	sink := r.upstream
	if d == ToDownstream {
		sink = r.downstream
	}
	if _, err := sink.Write(p); err != nil {
		r.writeFailed(d.String(), err)
	}
	r.appendEvent(summary)
	r.sinkMu.RUnlock()

	r.logger.Verbose("[%s] %s", r.sess.ShortID(), summary)
	if r.logger.Level() >= util.LogDebug {
		r.logger.Debug("[%s] %s payload:\n%s", r.sess.ShortID(), d, hex.Dump(p))
	}
}

// Close flushes and closes all three sinks.  Only the first call does
// anything; every call returns nil.
func (r *Recorder) Close() error {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.metaMu.Lock()
	defer r.metaMu.Unlock()

	sinks := []struct {
		name string
		w    io.WriteCloser
	}{
		{"meta", r.meta},
		{"upstream", r.upstream},
		{"downstream", r.downstream},
	}
	for _, s := range sinks {
		if f, ok := s.w.(interface{ Sync() error }); ok {
			if err := f.Sync(); err != nil {
				r.writeFailed(s.name, err)
			}
		}
		if err := s.w.Close(); err != nil {
			r.writeFailed(s.name, err)
		}
	}
	return nil
}

// appendEvent writes one event line.  Callers hold sinkMu for reading.
func (r *Recorder) appendEvent(text string) {
	line := r.now().UTC().Format(TimeLayout) + " " + strings.ReplaceAll(text, "\n", `\n`) + "\n"

	r.metaMu.Lock()
	_, err := io.WriteString(r.meta, line)
	r.metaMu.Unlock()

	if err != nil {
		r.writeFailed("meta", err)
	}
}

// writeFailed counts a failed append.  The first failure per session is
// a warning; later ones only show at debug level.
func (r *Recorder) writeFailed(sink string, err error) {
	r.writeErrors.Add(1)
	r.metrics.LogWriteError()
	if r.warned.CompareAndSwap(false, true) {
		r.logger.Warn("[%s] %s sink write failed, recording is degraded: %v",
			r.sess.ShortID(), sink, err)
		return
	}
	r.logger.Debug("[%s] %s sink write failed: %v", r.sess.ShortID(), sink, err)
}

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
