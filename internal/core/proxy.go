package core

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ncerr "tcplog/internal/errors"
	"tcplog/internal/metrics"
	"tcplog/internal/recorder"
	"tcplog/internal/relay"
	"tcplog/internal/retry"
	"tcplog/internal/session"
	"tcplog/internal/transport"
	"tcplog/util"
)

// acceptPause is the wait after a temporary accept failure.
const acceptPause = 50 * time.Millisecond

// ProxyMode accepts client connections, connects each one to the
// upstream and records the relayed session under OutputDir.
type ProxyMode struct {
	Address   string // ":port"
	Upstream  string // host:port
	OutputDir string
	Dialer    transport.Dialer
	Breaker   *retry.CircuitBreaker // nil disables
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// GracePeriod is how long in-flight sessions may keep running once
	// the listener has closed.
	GracePeriod time.Duration
	// StatsInterval logs a metrics snapshot periodically; zero disables.
	StatsInterval time.Duration

	active atomic.Int64
	wg     sync.WaitGroup
}

var _ Mode = (*ProxyMode)(nil)

// Run binds Address and serves until ctx is cancelled.
func (m *ProxyMode) Run(ctx context.Context) error {
	ln, err := m.Listen()
	if err != nil {
		return err
	}
	defer m.Dialer.Close()
	return m.Serve(ctx, ln)
}

// Listen binds the proxy's TCP listener.  A failure is a listen
// NetworkError.
func (m *ProxyMode) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return nil, ncerr.Wrap(ncerr.OpListen, m.Address, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled or accept
// fails for good.  It returns only after every session it started has
// been finalized.
func (m *ProxyMode) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Sessions outlive ctx by up to GracePeriod.
	sessCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	m.Logger.Info("listening on %s, relaying to %s, recording to %s",
		ln.Addr(), m.Upstream, m.OutputDir)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	if m.StatsInterval > 0 {
		go m.reportStats(ctx)
	}

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if ncerr.IsTemporary(err) {
				m.Logger.Warn("accept: %v; retrying", err)
				time.Sleep(acceptPause)
				continue
			}
			serveErr = ncerr.Wrap(ncerr.OpAccept, ln.Addr().String(), err)
			break
		}

		m.wg.Add(1)
		go m.handle(sessCtx, conn, time.Now())
	}

	ln.Close()
	m.drain(cancelSessions)
	return serveErr
}

// ActiveSessions returns the number of sessions currently relaying.
func (m *ProxyMode) ActiveSessions() int {
	return int(m.active.Load())
}

// handle runs one client connection from dial to finalization.
func (m *ProxyMode) handle(ctx context.Context, inbound net.Conn, accepted time.Time) {
	defer m.wg.Done()

	client := inbound.RemoteAddr()
	m.Logger.Verbose("connection from %s", client)

	outbound, err := m.dial(ctx)
	if err != nil {
		inbound.Close()
		m.Metrics.DialFailure()
		m.Metrics.RecordError(err.Error())
		m.Logger.Error("client %s: upstream unreachable: %v", client, err)
		return
	}

	sess := session.New(client, accepted)
	rec, err := recorder.Open(m.OutputDir, sess, m.Logger, m.Metrics)
	if err != nil {
		inbound.Close()
		outbound.Close()
		m.Metrics.StorageFailure()
		m.Metrics.RecordError(err.Error())
		m.Logger.Error("client %s: cannot record session: %v", client, err)
		return
	}

	rec.RecordEvent("client connected %s", sess.RemoteAddr)
	rec.RecordEvent("upstream connected %s", m.Upstream)

	m.active.Add(1)
	m.Metrics.SessionOpened()

	res := relay.New(sess, inbound, outbound, rec, m.Logger, m.Metrics).Run(ctx)

	m.active.Add(-1)
	m.Metrics.SessionClosed()

	switch {
	case res.Err != nil && !util.IsHarmless(res.Err):
		m.Logger.Warn("[%s] ended by %v", sess.ShortID(), res.Err)
	case res.Side != "":
		m.Logger.Verbose("[%s] %s side closed first", sess.ShortID(), res.Side)
	}
}

// dial connects to the upstream through the breaker, when there is one.
func (m *ProxyMode) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	connect := func() error {
		c, err := m.Dialer.Dial(ctx, "tcp", m.Upstream)
		conn = c
		return err
	}

	var err error
	if m.Breaker != nil {
		err = m.Breaker.Execute(connect)
	} else {
		err = connect()
	}
	if err != nil {
		return nil, ncerr.Wrap(ncerr.OpDial, m.Upstream, err)
	}
	return conn, nil
}

// drain waits for running sessions, cancelling them once GracePeriod
// has passed.
func (m *ProxyMode) drain(cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	if n := m.ActiveSessions(); n > 0 {
		m.Logger.Info("waiting up to %v for %d session(s)", m.GracePeriod, n)
	}

	grace := time.NewTimer(m.GracePeriod)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		if n := m.ActiveSessions(); n > 0 {
			m.Logger.Warn("grace period over, closing %d session(s)", n)
		}
		cancel()
		<-done
	}
	m.Logger.Verbose("all sessions finalized")
}

func (m *ProxyMode) reportStats(ctx context.Context) {
	tick := time.NewTicker(m.StatsInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.Logger.Info("stats %s", m.Metrics.JSON())
		}
	}
}
