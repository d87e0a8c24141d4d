// SPDX-License-Identifier: GPL-3.0-or-later

package pool

import "github.com/bassosimone/httpcore/backend"

// Ticket memorizes the pairing between one in-flight multiplexed
// exchange and the connection that owns its stream (spec §4.5's
// "memorization table Response → Connection"), so a caller can release
// the connection for other borrowers immediately after submitting a
// request and come back later — possibly from a different goroutine —
// to collect the response.
type Ticket struct {
	entry   *entry
	promise *backend.ResponsePromise
}

// Promise returns the [*backend.ResponsePromise] this ticket tracks.
func (t *Ticket) Promise() *backend.ResponsePromise { return t.promise }

// Memorize records that promise belongs to l's connection, incrementing
// its memorization count, and returns a [*Ticket] a caller can hold onto
// independently of the [*Lease]. Call this once headers have been
// submitted on a shared (HTTP/2/3) connection.
func (p *Pool) Memorize(l *Lease, promise *backend.ResponsePromise) *Ticket {
	l.entry.mu.Lock()
	l.entry.memoCount++
	l.entry.mu.Unlock()
	return &Ticket{entry: l.entry, promise: promise}
}

// Recall returns the connection a ticket was memorized against, so the
// caller can invoke [backend.Backend.GetResponse] on it.
func (p *Pool) Recall(t *Ticket) *backend.Backend {
	return t.entry.conn
}

// Forget releases a ticket's hold on its connection once the response
// has been fully consumed or abandoned. Once memorization drops to zero
// and the connection is idle, a connection that was draining or expired
// is closed and swept from the pool; otherwise it simply becomes
// eligible again for the normal idle-queue scan.
func (p *Pool) Forget(t *Ticket) {
	e := t.entry
	e.mu.Lock()
	if e.memoCount > 0 {
		e.memoCount--
	}
	shouldClose := e.memoCount == 0 && e.conn.IsIdle() && (e.draining || e.conn.HasExpired())
	e.mu.Unlock()

	if !shouldClose {
		return
	}
	p.mu.Lock()
	queue := p.idle[e.endpoint]
	for i, candidate := range queue {
		if candidate == e {
			p.idle[e.endpoint] = append(queue[:i:i], queue[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	_ = e.conn.Close()
}
