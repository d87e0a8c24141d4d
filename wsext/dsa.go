// SPDX-License-Identifier: GPL-3.0-or-later

// Package wsext implements the HTTP extension framework of spec §4.7:
// Direct Stream Access (the raw read/write handle a response exposes
// after a 101 Switching Protocols or a successful RFC 8441 Extended
// CONNECT), a client-side WebSocket codec built on top of it, and a
// pass-through raw extension for user-implemented protocols.
package wsext

import (
	"context"
	"io"
	"sync"

	"github.com/bassosimone/httpcore/backend"
	"github.com/bassosimone/httpcore/errs"
	"github.com/bassosimone/httpcore/pool"
)

// DSA is Direct Stream Access: the raw duplex handle bound to a response
// once the backend has observed a protocol-switching status (101 for
// HTTP/1.1, 2xx for an RFC 8441 Extended CONNECT on HTTP/2 or HTTP/3).
// Writes are serialized against other borrowers of the same shared
// connection via the owning ticket; reads are not, since only the
// caller that owns this DSA ever reads its stream (spec §5: "the read
// side is driven only by the current caller's read").
type DSA struct {
	pool     *pool.Pool
	ticket   *pool.Ticket
	response *backend.LowLevelResponse

	mu     sync.Mutex
	closed bool
}

// NewDSA binds a DSA to response, whose connection is tracked by ticket
// in p. The caller (the root facade) constructs ticket via
// [pool.Pool.Memorize] immediately after submitting the upgrade request,
// for both HTTP/1 and multiplexed connections alike, so this package
// never special-cases the two borrowing disciplines.
func NewDSA(p *pool.Pool, ticket *pool.Ticket, response *backend.LowLevelResponse) *DSA {
	return &DSA{pool: p, ticket: ticket, response: response}
}

// Send writes data on the upgraded stream, serialized against any other
// writer sharing the same underlying connection (spec §4.7: "all I/O
// passes through the traffic-police scoped acquisition").
func (d *DSA) Send(ctx context.Context, data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errs.New(errs.KindProtocol, "dsa.send", io.ErrClosedPipe)
	}
	d.mu.Unlock()
	return d.pool.WithConnection(d.ticket, func(b *backend.Backend) error {
		return b.Send(ctx, d.ticket.Promise(), data, false)
	})
}

// RecvExtended reads up to n bytes (a non-positive n picks a default
// buffer size) from the upgraded stream, reporting eot once the remote
// half-closes. flags is reserved for transport-specific out-of-band
// signaling; this implementation always reports zero, since neither the
// HTTP/1 socket stream nor an HTTP/2/3 DATA frame surfaces anything
// beyond the bytes and the end-of-stream bit already carried by eot.
func (d *DSA) RecvExtended(ctx context.Context, n int) (data []byte, eot bool, flags int, err error) {
	if n <= 0 {
		n = 64 * 1024
	}
	buf := make([]byte, n)
	read, readErr := d.response.Read(ctx, buf)
	if readErr != nil && readErr != io.EOF {
		return nil, false, 0, readErr
	}
	return buf[:read], readErr == io.EOF, 0, nil
}

// Close deregisters the stream and releases the ticket's hold on its
// connection. Safe to call more than once.
func (d *DSA) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.response.Close()
	d.pool.Forget(d.ticket)
	return err
}
