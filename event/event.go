// SPDX-License-Identifier: GPL-3.0-or-later

// Package event defines the tagged event variants emitted by httpcore's
// protocol engines and the [Matrix] used to order and distribute them
// across concurrent streams on a multiplexed connection.
package event

// Event is implemented by every event variant a protocol engine can emit.
// StreamID returns the stream the event belongs to, or -1 for a
// connection-global event (handshake, goaway, termination).
type Event interface {
	// StreamID returns the owning stream id, or -1 for a global event.
	StreamID() int64

	// id returns the global insertion-order sequence number assigned by
	// the [Matrix] that holds this event. Only the matrix calls setID.
	id() int64
	setID(int64)
}

// GlobalStreamID is the sentinel [Event.StreamID] value used by
// connection-global events, matching the matrix's None-keyed bucket in
// the original design.
const GlobalStreamID int64 = -1

// base is embedded by every concrete event to supply the global sequence
// number bookkeeping that [Matrix] relies on for ordering.
type base struct {
	seq int64
}

func (b *base) id() int64     { return b.seq }
func (b *base) setID(v int64) { b.seq = v }

// HandshakeCompleted signals that the transport-level handshake (TLS,
// QUIC, or the trivial HTTP/1 no-op) has finished successfully.
type HandshakeCompleted struct {
	base

	// ALPN is the negotiated application protocol, if any.
	ALPN string
}

// StreamID implements [Event]. Handshake completion is connection-global.
func (*HandshakeCompleted) StreamID() int64 { return GlobalStreamID }

// HeadersReceived carries a fully parsed response (or trailer) header
// block for a stream.
type HeadersReceived struct {
	base

	Stream int64

	// Headers preserves repeated keys and wire order.
	Headers [][2]string

	// EndStream reports whether no further data follows on this stream.
	EndStream bool

	// Trailer reports whether Headers is a trailer block, not a leading
	// response header block.
	Trailer bool
}

// StreamID implements [Event].
func (e *HeadersReceived) StreamID() int64 { return e.Stream }

// EarlyHeadersReceived carries a 1xx informational response (e.g. 103
// Early Hints) that precedes the final response headers on the same
// stream.
type EarlyHeadersReceived struct {
	base

	Stream int64

	Headers [][2]string
}

// StreamID implements [Event].
func (e *EarlyHeadersReceived) StreamID() int64 { return e.Stream }

// DataReceived carries a chunk of response body bytes for a stream.
type DataReceived struct {
	base

	Stream int64

	Data []byte

	// EndStream reports whether this chunk is the last on the stream.
	EndStream bool
}

// StreamID implements [Event].
func (e *DataReceived) StreamID() int64 { return e.Stream }

// StreamResetSent signals that this side reset (cancelled) a stream.
type StreamResetSent struct {
	base

	Stream    int64
	ErrorCode uint64
}

// StreamID implements [Event].
func (e *StreamResetSent) StreamID() int64 { return e.Stream }

// StreamResetReceived signals that the peer reset a stream.
type StreamResetReceived struct {
	base

	Stream    int64
	ErrorCode uint64
}

// StreamID implements [Event].
func (e *StreamResetReceived) StreamID() int64 { return e.Stream }

// GoawayReceived signals that the peer will not initiate or accept new
// streams above LastStreamID. Existing streams below that id remain
// valid until they complete.
type GoawayReceived struct {
	base

	LastStreamID int64
	ErrorCode    uint64
	DebugData    string
}

// StreamID implements [Event]. Goaway is connection-global.
func (*GoawayReceived) StreamID() int64 { return GlobalStreamID }

// ConnectionTerminated signals that the connection is no longer usable,
// either because the peer closed it, a protocol violation was detected,
// or the engine was closed locally. Err is nil for a clean local close.
type ConnectionTerminated struct {
	base

	Err error
}

// StreamID implements [Event]. Termination is connection-global.
func (*ConnectionTerminated) StreamID() int64 { return GlobalStreamID }
