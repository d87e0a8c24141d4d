// SPDX-License-Identifier: GPL-3.0-or-later

// Package engine defines the common contract implemented by the three
// sans-I/O protocol state machines (HTTP/1.1, HTTP/2, HTTP/3-over-QUIC)
// in the h1, h2, and h3 subpackages. Each engine is fed raw bytes,
// produces raw bytes to send, and exposes decoded protocol activity as
// [event.Event] values rather than performing I/O itself; the backend
// package owns the actual socket and drives an engine's byte pump.
package engine

import (
	"time"

	"github.com/bassosimone/httpcore/event"
)

// Header is a single wire header field. Order is preserved so the
// caller-visible semantics match what was actually sent or received.
type Header struct {
	Name  string
	Value string
}

// Engine is the sans-I/O contract shared by the h1, h2, and h3 protocol
// state machines. All methods are synchronous, and an engine never
// performs socket I/O itself: it only translates between wire bytes and
// [event.Event] values. The h1 and h2 methods never block; the h3
// engine's GetAvailableStreamID waits for the QUIC handshake, and its
// stream writes can wait on QUIC flow control.
type Engine interface {
	// IsAvailable reports whether the engine can accept a new stream:
	// it is not terminated, not draining from a remote goaway, and has
	// spare stream capacity.
	IsAvailable() bool

	// IsIdle reports whether the engine has no open streams.
	IsIdle() bool

	// HasExpired reports whether the engine received a remote goaway or
	// was terminated locally, meaning it should be retired from the
	// pool once its in-flight streams complete.
	HasExpired() bool

	// GetAvailableStreamID allocates and returns the next stream id the
	// caller should use for a new request.
	GetAvailableStreamID() int64

	// SubmitHeaders enqueues an outbound HEADERS block for streamID.
	SubmitHeaders(streamID int64, headers []Header, endStream bool) error

	// SubmitData enqueues outbound body bytes for streamID.
	SubmitData(streamID int64, data []byte, endStream bool) error

	// ShouldWaitRemoteFlowControl reports whether the caller must pause
	// before submitting more data for streamID (HTTP/2/3 flow control;
	// always false for HTTP/1). amt, if non-zero, asks whether that
	// many additional bytes specifically would fit in the window.
	ShouldWaitRemoteFlowControl(streamID int64, amt int) bool

	// SubmitStreamReset enqueues an outbound RST_STREAM-equivalent for
	// streamID and records a local [event.StreamResetSent]. The h1
	// engine, which has no per-stream reset, terminates the connection
	// and records an [event.ConnectionTerminated] instead.
	SubmitStreamReset(streamID int64, errorCode uint64) error

	// SubmitClose enqueues a graceful connection close.
	SubmitClose(errorCode uint64) error

	// BytesReceived feeds raw inbound bytes into the engine, appending
	// any resulting events to its internal matrix. A protocol violation
	// produces a synthetic [event.ConnectionTerminated] and moves the
	// engine to the terminated state rather than returning an error.
	BytesReceived(data []byte)

	// BytesToSend drains and returns any bytes queued for the wire.
	BytesToSend() []byte

	// NextEvent pops and returns the next ready event for streamID, or
	// for any stream if streamID is nil. See [event.Matrix.PopLeft].
	NextEvent(streamID *int64) event.Event

	// HasPendingEvent reports whether NextEvent would return non-nil
	// for the same arguments.
	HasPendingEvent(streamID *int64) bool

	// Reshelve pushes events back onto the head of their stream queues,
	// preserving order, for a caller that peeked and was not ready to
	// consume them.
	Reshelve(events ...event.Event)

	// MaxFrameSize reports the largest single write the engine can
	// accept for SubmitData without internally chunking it further.
	MaxFrameSize() int

	// NextTimerInstant reports when the engine next needs a tick
	// unrelated to incoming bytes (HTTP/3 relies on this for ACKs and
	// loss detection); it returns the zero [time.Time] if none is due.
	NextTimerInstant() time.Time
}
