// SPDX-License-Identifier: GPL-3.0-or-later

// Package pool implements the traffic-police connection pool: a mapping
// from endpoint to an ordered queue of connections, plus the
// memorization bookkeeping that lets a multiplexed HTTP/2 or HTTP/3
// response be collected long after the connection that owns its stream
// was released back for other callers to share.
//
// HTTP/1 connections are borrowed exclusively: a connection leaves the
// idle queue on [Pool.Acquire] and only returns via [Pool.Release].
// HTTP/2 and HTTP/3 connections are borrowed shared: [Pool.Acquire] never
// removes them from the idle queue, and admission of further streams is
// instead gated by the engine's own is_available/has_expired state,
// checked on every scan.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bassosimone/httpcore"
	"github.com/bassosimone/httpcore/backend"
)

// Endpoint identifies one connection queue. Different protocols to the
// same host:port are kept in separate queues, since an HTTP/1 connection
// and an HTTP/2 connection to the same authority are never interchangeable.
type Endpoint struct {
	Host     string
	Port     int
	Protocol backend.Protocol
}

// Dialer establishes a brand-new, already-handshaked [*backend.Backend]
// for ep. The caller typically builds this from [httpcore.ConnectFunc],
// [httpcore.TLSHandshakeFunc], and a protocol engine composed with
// [httpcore.Compose2] or similar.
type Dialer func(ctx context.Context, ep Endpoint) (*backend.Backend, error)

// entry is one pooled connection plus its borrowing bookkeeping.
type entry struct {
	mu        sync.Mutex // serializes non-reentrant socket operations
	conn      *backend.Backend
	endpoint  Endpoint
	memoCount int
	draining  bool
	removed   bool
}

// Pool is the traffic-police connection pool described in spec §4.5.
// Zero value is not ready for use; call [New].
type Pool struct {
	mu          sync.Mutex
	idle        map[Endpoint][]*entry
	maxPerQueue int
	idleTimeout time.Duration
	timeNow     func() time.Time
	logger      httpcore.SLogger
}

// New returns a [*Pool] evicting connections idle for longer than
// idleTimeout. maxPerQueue is stored but not enforced: each endpoint's
// queue grows without limit whatever its value.
func New(maxPerQueue int, idleTimeout time.Duration, logger httpcore.SLogger) *Pool {
	if logger == nil {
		logger = httpcore.DefaultSLogger()
	}
	return &Pool{
		idle:        make(map[Endpoint][]*entry),
		maxPerQueue: maxPerQueue,
		idleTimeout: idleTimeout,
		timeNow:     time.Now,
		logger:      logger,
	}
}

// Lease is an exclusively-held connection returned by [Pool.Acquire]. For
// HTTP/1 it must eventually be released via [Pool.Release]; for HTTP/2 and
// HTTP/3 the connection is already back in the shared idle set by the time
// Acquire returns, and Release is a no-op kept only for symmetry.
type Lease struct {
	pool     *Pool
	entry    *entry
	released bool
}

// Backend returns the underlying connection.
func (l *Lease) Backend() *backend.Backend { return l.entry.conn }

// Acquire returns a connection for ep: an existing idle (HTTP/1) or
// available shared (HTTP/2/3) connection if one qualifies, or a freshly
// dialed one otherwise. Admission onto a shared connection is gated by
// [backend.Backend.IsAvailable]; draining or expired connections are
// skipped and swept out of the queue.
func (p *Pool) Acquire(ctx context.Context, ep Endpoint, dial Dialer) (*Lease, error) {
	if e := p.popReusable(ep); e != nil {
		p.logAcquire(ep, true)
		return &Lease{pool: p, entry: e}, nil
	}

	conn, err := dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	e := &entry{conn: conn, endpoint: ep}
	if conn.Protocol() != backend.ProtocolHTTP1 {
		p.mu.Lock()
		p.idle[ep] = append(p.idle[ep], e)
		p.mu.Unlock()
	}
	p.logAcquire(ep, false)
	return &Lease{pool: p, entry: e}, nil
}

// popReusable scans ep's queue for the first non-draining, non-expired,
// available entry, sweeping anything it finds draining or expired along
// the way. HTTP/1 entries are removed from the queue (exclusive borrow);
// HTTP/2/3 entries are left in place (shared borrow).
func (p *Pool) popReusable(ep Endpoint) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := p.idle[ep]
	kept := queue[:0]
	var found *entry
	for _, e := range queue {
		e.mu.Lock()
		expired := e.conn.HasExpired()
		idle := p.idleTimeout > 0 && p.timeNow().Sub(e.conn.LastActivity()) > p.idleTimeout
		e.mu.Unlock()

		switch {
		case expired || idle:
			e.draining = true
			e.removed = true
			go e.conn.Close() //nolint:errcheck // best-effort teardown of a dead connection
		case found == nil && e.conn.IsAvailable():
			found = e
			if e.conn.Protocol() != backend.ProtocolHTTP1 {
				kept = append(kept, e)
			}
		default:
			kept = append(kept, e)
		}
	}
	p.idle[ep] = kept
	return found
}

// Release returns an HTTP/1 connection to the idle queue, or discards it
// if it has expired or is draining. For HTTP/2/3 it is a no-op: those
// connections were never removed from the idle set.
func (p *Pool) Release(l *Lease) {
	if l.released {
		return
	}
	l.released = true
	e := l.entry
	if e.conn.Protocol() != backend.ProtocolHTTP1 {
		return
	}
	if e.conn.HasExpired() {
		_ = e.conn.Close()
		return
	}
	p.mu.Lock()
	p.idle[e.endpoint] = append(p.idle[e.endpoint], e)
	p.mu.Unlock()
}

func (p *Pool) logAcquire(ep Endpoint, reused bool) {
	p.logger.Info("poolAcquire",
		slog.String("host", ep.Host),
		slog.Int("port", ep.Port),
		slog.String("protocol", string(ep.Protocol)),
		slog.Bool("reused", reused),
		slog.Time("t", p.timeNow()),
	)
}

// WithConnection runs fn while holding ticket's connection-level mutex,
// serializing non-reentrant operations against the same socket (e.g. a
// WebSocket frame write racing a concurrent ping) with release guaranteed
// on every exit path, including a panic inside fn.
func (p *Pool) WithConnection(t *Ticket, fn func(*backend.Backend) error) error {
	t.entry.mu.Lock()
	defer t.entry.mu.Unlock()
	return fn(t.entry.conn)
}
