// Package relay pumps bytes between an accepted client socket and its
// upstream socket, handing every chunk to a recorder before forwarding
// it, and tears the pair down exactly once.
package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ncerr "tcplog/internal/errors"
	"tcplog/internal/metrics"
	"tcplog/internal/recorder"
	"tcplog/internal/session"
	"tcplog/util"
)

// Recorder receives everything a link observes.  *recorder.Recorder
// satisfies it.
type Recorder interface {
	RecordBytes(d recorder.Direction, p []byte)
	RecordEvent(format string, args ...interface{})
	Close() error
}

// Side names one of the two sockets of a link.
type Side string

const (
	Inbound  Side = "inbound"
	Outbound Side = "outbound"
)

// Result describes how a link ended.
type Result struct {
	// Side is the socket whose closure ended the session.  It is empty
	// when the link was cancelled or closed from outside.
	Side Side
	// Err is the cause: nil for a clean EOF, a read/write NetworkError
	// for an I/O failure, or the context error on cancellation.
	Err        error
	Upstream   int64 // bytes client → upstream
	Downstream int64 // bytes upstream → client
	Duration   time.Duration
}

// Link owns one inbound socket, one outbound socket and one recorder.
type Link struct {
	sess     *session.Session
	inbound  net.Conn
	outbound net.Conn
	rec      Recorder
	logger   *util.Logger
	metrics  *metrics.Collector

	started  atomic.Bool
	pending  atomic.Int32
	upBytes  atomic.Int64
	dnBytes  atomic.Int64
	tornDown chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	result Result
}

// New binds a session's sockets and recorder into a link.  Nothing
// moves until Start.
func New(sess *session.Session, inbound, outbound net.Conn, rec Recorder, logger *util.Logger, m *metrics.Collector) *Link {
	return &Link{
		sess:     sess,
		inbound:  inbound,
		outbound: outbound,
		rec:      rec,
		logger:   logger,
		metrics:  m,
		tornDown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches both copy loops and a watcher that tears the link down
// when ctx is cancelled.  Calls after the first, or after Close, are
// ignored.
func (l *Link) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	l.pending.Store(2)

	go l.pump(l.inbound, l.outbound, Inbound, Outbound, recorder.ToUpstream, &l.upBytes)
	go l.pump(l.outbound, l.inbound, Outbound, Inbound, recorder.ToDownstream, &l.dnBytes)

	go func() {
		select {
		case <-ctx.Done():
			l.terminate("session cancelled: "+ctx.Err().Error(), "", ctx.Err())
		case <-l.done:
		}
	}()
}

// Wait blocks until a started link has been finalized.
func (l *Link) Wait() Result {
	<-l.done
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// Run is Start followed by Wait.
func (l *Link) Run(ctx context.Context) Result {
	l.Start(ctx)
	return l.Wait()
}

// Close forces teardown.  It competes with the copy loops for the
// session's single close.  A link closed before Start is finalized
// here, since no copy loop will ever run.
func (l *Link) Close() {
	if l.started.CompareAndSwap(false, true) {
		if l.terminate("session closed by proxy", "", nil) {
			l.finish()
		}
		return
	}
	l.terminate("session closed by proxy", "", nil)
}

// Done is closed once the recorder has been closed and the session is
// Closed.
func (l *Link) Done() <-chan struct{} { return l.done }

// Session returns the link's session.
func (l *Link) Session() *session.Session { return l.sess }

// pump copies src to dst through a pooled buffer.  Each chunk is
// recorded before it is forwarded.
func (l *Link) pump(src, dst net.Conn, srcSide, dstSide Side, d recorder.Direction, count *atomic.Int64) {
	defer l.loopDone()

	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	var (
		side  Side
		cause error
	)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			l.rec.RecordBytes(d, chunk)
			if _, werr := dst.Write(chunk); werr != nil {
				side, cause = dstSide, ncerr.Wrap(ncerr.OpWrite, remote(dst), werr)
				break
			}
			count.Add(int64(n))
			if d == recorder.ToUpstream {
				l.metrics.BytesToUpstream(int64(n))
			} else {
				l.metrics.BytesToDownstream(int64(n))
			}
		}
		if rerr != nil {
			side = srcSide
			if rerr != io.EOF {
				cause = ncerr.Wrap(ncerr.OpRead, remote(src), rerr)
			}
			break
		}
	}

	event := string(side) + " socket closed (EOF)"
	if cause != nil {
		event = string(side) + " socket closed: " + cause.Error()
	}
	if !l.terminate(event, side, cause) {
		l.rec.RecordEvent("%s socket closed (shutdown)", side)
	}
}

// terminate claims the session's close.  Only the winner records event,
// stores the cause and closes both sockets; it reports whether the
// caller won.
func (l *Link) terminate(event string, side Side, cause error) bool {
	if !l.sess.BeginClose() {
		return false
	}

	l.rec.RecordEvent("%s", event)
	if cause != nil && !util.IsHarmless(cause) {
		l.metrics.RecordError(cause.Error())
	}

	l.mu.Lock()
	l.result.Side = side
	l.result.Err = cause
	l.mu.Unlock()

	for _, c := range []net.Conn{l.inbound, l.outbound} {
		if err := util.CloseWrite(c); err != nil {
			l.logger.Debug("[%s] half-close %s: %v", l.sess.ShortID(), remote(c), err)
		}
		c.Close()
	}
	close(l.tornDown)
	return true
}

// loopDone finalizes the link once both copy loops have exited.
func (l *Link) loopDone() {
	if l.pending.Add(-1) != 0 {
		return
	}
	<-l.tornDown
	l.finish()
}

// finish writes the summary, closes the recorder and releases Wait.
func (l *Link) finish() {
	dur := l.sess.Age()
	up, down := l.upBytes.Load(), l.dnBytes.Load()
	l.rec.RecordEvent("session closed after %v (up=%d down=%d)",
		dur.Truncate(time.Millisecond), up, down)
	l.rec.Close() //nolint:errcheck
	l.sess.FinishClose()

	l.mu.Lock()
	l.result.Upstream = up
	l.result.Downstream = down
	l.result.Duration = dur
	l.mu.Unlock()

	l.logger.Verbose("[%s] relay finished (up=%d down=%d)", l.sess.ShortID(), up, down)
	close(l.done)
}

func remote(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
