// SPDX-License-Identifier: GPL-3.0-or-later

// Package backend presents one uniform connection interface over the
// three protocol engines in the engine subpackage: putrequest/putheader/
// endheaders to build a request, send to push body bytes, getresponse
// to wait for and stream a response, and close to tear the connection
// down. The backend owns the actual socket and is the only place that
// performs real I/O; it drives an [engine.Engine] by feeding it bytes
// read from the connection and writing back whatever the engine queues.
package backend

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bassosimone/httpcore/engine"
	"github.com/bassosimone/httpcore/engine/h1"
	"github.com/bassosimone/httpcore/errs"
	"github.com/bassosimone/httpcore/event"
)

// Protocol identifies which engine a [Backend] is driving.
type Protocol string

// Recognized protocols, matching the ALPN/engine selection in spec §4.3.
const (
	ProtocolHTTP1 Protocol = "http/1.1"
	ProtocolHTTP2 Protocol = "h2"
	ProtocolHTTP3 Protocol = "h3"
)

// Backend is one connection presenting a protocol-agnostic request/
// response interface. Zero value is not ready for use; call [New].
type Backend struct {
	mu       sync.Mutex
	conn     net.Conn
	eng      engine.Engine
	protocol Protocol
	host     string

	// request-under-construction state
	building       bool
	pendingMethod  string
	pendingPath    string
	pendingAuth    string
	pendingHeaders []engine.Header

	promises map[int64]*ResponsePromise

	lastActivity time.Time
	timeNow      func() time.Time
}

// New wraps an already-connected, already-handshaked conn with the
// engine appropriate for protocol. The caller has already performed
// TCP/UDP dial and TLS/QUIC handshake (see the root package's
// [engine.Engine]-agnostic connect/TLS primitives and engine/h3's
// handshake-over-fake-socket design); New only takes ownership of
// driving the wire from here on.
func New(conn net.Conn, eng engine.Engine, protocol Protocol, host string) *Backend {
	return &Backend{
		conn:     conn,
		eng:      eng,
		protocol: protocol,
		host:     host,
		promises: make(map[int64]*ResponsePromise),
		timeNow:  time.Now,
	}
}

// Protocol reports which engine this backend drives.
func (b *Backend) Protocol() Protocol { return b.protocol }

// IsAvailable reports whether the underlying engine can accept a new
// request (see [engine.Engine.IsAvailable]).
func (b *Backend) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eng.IsAvailable()
}

// IsIdle reports whether the underlying engine has no open streams.
func (b *Backend) IsIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eng.IsIdle()
}

// HasExpired reports whether the underlying engine received a goaway or
// was terminated (see [engine.Engine.HasExpired]).
func (b *Backend) HasExpired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eng.HasExpired()
}

// PutRequest begins building a new request for method and path.
// endheaders must be called to actually submit it.
func (b *Backend) PutRequest(method, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.building {
		return fmt.Errorf("backend: a request is already under construction")
	}
	b.building = true
	b.pendingMethod = method
	b.pendingPath = path
	b.pendingAuth = b.host
	b.pendingHeaders = nil
	return nil
}

// PutHeader adds one header field to the request under construction.
func (b *Backend) PutHeader(name, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.building {
		return fmt.Errorf("backend: no request under construction")
	}
	if strings.EqualFold(name, "host") {
		b.pendingAuth = value
		return nil
	}
	b.pendingHeaders = append(b.pendingHeaders, engine.Header{Name: name, Value: value})
	return nil
}

// EndHeaders submits the accumulated request. expectBodyAfterward keeps
// the stream open for subsequent [Backend.Send] calls; it returns a
// [*ResponsePromise] for multiplexed protocols, or nil for HTTP/1 where
// the next [Backend.GetResponse] implicitly targets this exchange.
func (b *Backend) EndHeaders(expectBodyAfterward bool) (*ResponsePromise, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.building {
		return nil, fmt.Errorf("backend: no request under construction")
	}
	b.building = false

	var streamID int64
	var headers []engine.Header
	if b.protocol == ProtocolHTTP1 {
		streamID = h1.StreamID
		headers = append(headers,
			engine.Header{Name: ":method", Value: b.pendingMethod},
			engine.Header{Name: ":path", Value: b.pendingPath},
			engine.Header{Name: ":authority", Value: b.pendingAuth},
		)
	} else {
		streamID = b.eng.GetAvailableStreamID()
		headers = append(headers,
			engine.Header{Name: ":method", Value: b.pendingMethod},
			engine.Header{Name: ":scheme", Value: "https"},
			engine.Header{Name: ":authority", Value: b.pendingAuth},
			engine.Header{Name: ":path", Value: b.pendingPath},
		)
	}
	headers = append(headers, b.pendingHeaders...)

	if err := b.eng.SubmitHeaders(streamID, headers, !expectBodyAfterward); err != nil {
		return nil, err
	}
	b.lastActivity = b.timeNow()

	if b.protocol == ProtocolHTTP1 {
		return nil, nil
	}
	p := newResponsePromise(streamID)
	b.promises[streamID] = p
	return p, nil
}

// Send pushes request body bytes for the most recently submitted
// request (HTTP/1) or for promise's stream (HTTP/2/3). eot marks the
// final chunk.
func (b *Backend) Send(ctx context.Context, promise *ResponsePromise, data []byte, eot bool) error {
	streamID := b.streamIDFor(promise)

	b.mu.Lock()
	for b.eng.ShouldWaitRemoteFlowControl(streamID, len(data)) {
		b.mu.Unlock()
		if err := b.pumpOnce(ctx); err != nil {
			return err
		}
		b.mu.Lock()
	}
	err := b.eng.SubmitData(streamID, data, eot)
	if err == nil {
		b.lastActivity = b.timeNow()
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.flush(ctx)
}

func (b *Backend) streamIDFor(promise *ResponsePromise) int64 {
	if promise == nil {
		return h1.StreamID
	}
	return promise.streamID
}

// GetResponse waits until the engine has emitted HeadersReceived for
// the targeted exchange, draining any preceding EarlyHeadersReceived
// events into the returned [*LowLevelResponse]'s EarlyHeaders, and
// returns a response whose body streams lazily from the engine.
func (b *Backend) GetResponse(ctx context.Context, promise *ResponsePromise) (*LowLevelResponse, error) {
	streamID := b.streamIDFor(promise)

	var early [][][2]string
	for {
		b.mu.Lock()
		ev := b.eng.NextEvent(&streamID)
		b.mu.Unlock()

		switch e := ev.(type) {
		case nil:
			if err := b.pumpOnce(ctx); err != nil {
				return nil, err
			}
			continue
		case *event.EarlyHeadersReceived:
			early = append(early, e.Headers)
			continue
		case *event.HeadersReceived:
			return newLowLevelResponse(b, streamID, e.Headers, e.EndStream, early), nil
		case *event.StreamResetReceived:
			return nil, errs.New(errs.KindProtocol, "getresponse",
				fmt.Errorf("stream reset by peer (code %d)", e.ErrorCode))
		case *event.ConnectionTerminated:
			return nil, errs.New(errs.KindProtocol, "getresponse", e.Err)
		case *event.GoawayReceived:
			// Informational at the connection level; the targeted stream
			// may still complete normally, so keep waiting for it.
			continue
		default:
			continue
		}
	}
}

// Close sends a graceful close and tears down the socket.
func (b *Backend) Close() error {
	b.mu.Lock()
	_ = b.eng.SubmitClose(0)
	out := b.eng.BytesToSend()
	b.mu.Unlock()
	if len(out) > 0 {
		_, _ = b.conn.Write(out)
	}
	return b.conn.Close()
}

// flush drains and writes any bytes the engine has queued after a
// submit call.
func (b *Backend) flush(ctx context.Context) error {
	b.mu.Lock()
	out := b.eng.BytesToSend()
	b.mu.Unlock()
	for len(out) > 0 {
		if deadline, ok := ctx.Deadline(); ok {
			_ = b.conn.SetWriteDeadline(deadline)
		}
		if _, err := b.conn.Write(out); err != nil {
			return errs.New(errs.KindWriteTimeout, "send", err)
		}
		b.mu.Lock()
		out = b.eng.BytesToSend()
		b.mu.Unlock()
	}
	return nil
}

// pumpOnce flushes pending outbound bytes, then performs exactly one
// blocking read from the socket and feeds it to the engine. Callers
// loop on this until the condition they are waiting for is satisfied.
//
// The read lands in a buffer local to this call rather than a shared
// field: [net.Conn] itself tolerates concurrent callers (its docs
// guarantee "multiple goroutines may invoke methods on a Conn
// simultaneously"), and a multiplexed HTTP/2 or HTTP/3 connection is
// genuinely pumped from more than one goroutine at once — one per
// stream a caller is independently reading, plus the HTTP/3 background
// driver in [Backend.Pump]'s caller. A shared buffer would let one
// goroutine's read clobber bytes another was still copying out.
func (b *Backend) pumpOnce(ctx context.Context) error {
	if err := b.flush(ctx); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.conn.SetReadDeadline(deadline)
	}
	buf := make([]byte, 64*1024)
	n, err := b.conn.Read(buf)
	if err != nil {
		b.mu.Lock()
		b.eng.BytesReceived(nil) // allow h1/h2 to notice a closed connection on next pump
		b.mu.Unlock()
		return errs.New(errs.KindReadTimeout, "read", err)
	}
	b.mu.Lock()
	b.eng.BytesReceived(buf[:n])
	b.lastActivity = b.timeNow()
	b.mu.Unlock()
	return b.flush(ctx)
}

// Pump performs exactly one blocking read/write cycle against the
// underlying connection on the engine's behalf. Every protocol relies
// on some goroutine calling this (indirectly, via [Backend.Send] or
// [Backend.GetResponse]) to make progress, but HTTP/3's QUIC handshake
// and its GOAWAY/SETTINGS/ping traffic complete asynchronously inside
// the engine's own goroutine (see engine/h3) — nothing else drives that
// socket until a caller's first request blocks waiting for it. Client
// code dialing HTTP/3 should run Pump in a background goroutine for the
// connection's lifetime; see the client package's h3 driver loop.
func (b *Backend) Pump(ctx context.Context) error {
	return b.pumpOnce(ctx)
}

// LastActivity reports when the connection last sent or received data,
// used by the pool's idle-timeout eviction.
func (b *Backend) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// statusFromHeaders extracts a numeric :status pseudo-header value from
// a header block; [newLowLevelResponse] uses it to fill StatusCode.
func statusFromHeaders(headers [][2]string) (int, error) {
	for _, h := range headers {
		if h[0] == ":status" {
			return strconv.Atoi(h[1])
		}
	}
	return 0, fmt.Errorf("backend: no :status pseudo-header present")
}
