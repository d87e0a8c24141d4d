// SPDX-License-Identifier: GPL-3.0-or-later

// Package h3 implements the sans-I/O HTTP/3-over-QUIC [engine.Engine].
// It drives a real [quic.Transport] from quic-go against an in-memory
// [fakePacketConn] instead of a UDP socket, so the genuine QUIC
// handshake and packet state machine run unmodified while
// [Engine.BytesReceived]/[Engine.BytesToSend] remain the only crossing
// points for bytes — one UDP datagram per call, matching the spec's
// "datagrams are driven explicitly" requirement for this protocol.
//
// HTTP/3's own framing (HEADERS/DATA/SETTINGS/GOAWAY, RFC 9114) and
// QPACK header compression (RFC 9204, via github.com/quic-go/qpack,
// used here in static-table/literal mode only: this engine never grows
// a dynamic table, so it needs neither the QPACK encoder nor decoder
// stream) are implemented directly against quic-go's stream API.
package h3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"

	"github.com/bassosimone/httpcore/engine"
	"github.com/bassosimone/httpcore/event"
)

type h3Stream struct {
	qstream quic.Stream
	id      int64
}

// Engine implements [engine.Engine] for HTTP/3. Zero value is not ready
// for use; call [New].
type Engine struct {
	mu sync.Mutex

	pconn     *fakePacketConn
	transport *quic.Transport
	conn      quic.Connection
	connErr   error
	connReady chan struct{}

	evm     *event.Matrix
	streams map[int64]*h3Stream

	qEnc    *qpack.Encoder
	qEncBuf bytes.Buffer

	goawayReceived bool
	terminated     bool
}

// New creates an HTTP/3 engine and starts the QUIC client handshake in
// the background. serverName and quicConfig configure the handshake;
// ctx bounds how long the handshake itself may take (it does not bound
// the engine's subsequent lifetime).
func New(ctx context.Context, serverName string, tlsConfig *tls.Config, quicConfig *quic.Config) *Engine {
	e := &Engine{
		pconn:     newFakePacketConn(),
		evm:       event.NewMatrix(),
		streams:   make(map[int64]*h3Stream),
		connReady: make(chan struct{}),
	}
	var hbuf bytes.Buffer
	e.qEnc = qpack.NewEncoder(&hbuf)
	e.qEncBuf = hbuf

	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if serverName != "" {
		cfg.ServerName = serverName
	}
	cfg.NextProtos = []string{"h3"}

	e.transport = &quic.Transport{Conn: e.pconn}

	go e.dial(ctx, cfg, quicConfig)
	return e
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) dial(ctx context.Context, tlsConfig *tls.Config, quicConfig *quic.Config) {
	conn, err := e.transport.Dial(ctx, e.pconn.remote, tlsConfig, quicConfig)
	e.mu.Lock()
	e.conn, e.connErr = conn, err
	e.mu.Unlock()
	close(e.connReady)

	if err != nil {
		e.mu.Lock()
		e.terminated = true
		e.evm.Append(&event.ConnectionTerminated{Err: err})
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.evm.Append(&event.HandshakeCompleted{ALPN: "h3"})
	e.mu.Unlock()

	if err := e.sendControlStream(); err != nil {
		e.fail(err)
		return
	}
	go e.acceptControlStreams(ctx)
}

func (e *Engine) sendControlStream() error {
	s, err := e.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("h3: open control stream: %w", err)
	}
	var buf bytes.Buffer
	buf.Write([]byte{streamTypeControl})
	writeFrame(&buf, frameTypeSettings, nil)
	_, err = s.Write(buf.Bytes())
	return err
}

func (e *Engine) acceptControlStreams(ctx context.Context) {
	for {
		s, err := e.conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		go e.readControlStream(s)
	}
}

func (e *Engine) readControlStream(s quic.ReceiveStream) {
	r := bufio.NewReader(s)
	typ, err := r.ReadByte()
	if err != nil || typ != streamTypeControl {
		return
	}
	for {
		frameType, payload, err := readFrame(r)
		if err != nil {
			return
		}
		switch frameType {
		case frameTypeGoaway:
			e.mu.Lock()
			e.goawayReceived = true
			e.evm.Append(&event.GoawayReceived{})
			e.mu.Unlock()
		default:
			_ = payload // SETTINGS and unknown frames are accepted and ignored
		}
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	if !e.terminated {
		e.terminated = true
		e.evm.Append(&event.ConnectionTerminated{Err: err})
	}
	e.mu.Unlock()
}

// IsAvailable implements [engine.Engine].
func (e *Engine) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.terminated && !e.goawayReceived
}

// IsIdle implements [engine.Engine].
func (e *Engine) IsIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams) == 0
}

// HasExpired implements [engine.Engine].
func (e *Engine) HasExpired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated || e.goawayReceived
}

// GetAvailableStreamID implements [engine.Engine]. It blocks until the
// QUIC handshake completes, then opens a new bidirectional stream and
// returns quic-go's own stream id for it, which the caller will later
// pass back to [Engine.SubmitHeaders].
func (e *Engine) GetAvailableStreamID() int64 {
	<-e.connReady
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return -1
	}
	s, err := e.conn.OpenStreamSync(context.Background())
	if err != nil {
		return -1
	}
	id := int64(s.StreamID())
	e.streams[id] = &h3Stream{qstream: s, id: id}
	go e.readStream(id, s)
	return id
}

// MaxFrameSize implements [engine.Engine]. HTTP/3 frames are bounded
// only by QUIC flow control, so this reports a generous fixed ceiling.
func (e *Engine) MaxFrameSize() int {
	return 1 << 20
}

// NextTimerInstant implements [engine.Engine]. quic-go's [quic.Transport]
// drives loss-detection and ACK timers on its own goroutines against
// real wall-clock time (it exposes no hook to surface or drive that
// schedule externally), so this engine has no externally-visible timer
// of its own.
func (e *Engine) NextTimerInstant() time.Time {
	return time.Time{}
}

// ShouldWaitRemoteFlowControl implements [engine.Engine]. QUIC stream
// and connection flow control is enforced inside quic-go itself: a
// Write that would exceed the window simply blocks inside quic-go
// rather than surfacing a "not yet" signal here.
func (e *Engine) ShouldWaitRemoteFlowControl(streamID int64, amt int) bool {
	return false
}

// SubmitHeaders implements [engine.Engine].
func (e *Engine) SubmitHeaders(streamID int64, headers []engine.Header, endStream bool) error {
	e.mu.Lock()
	st, ok := e.streams[streamID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("h3: unknown stream %d", streamID)
	}

	var hbuf bytes.Buffer
	enc := qpack.NewEncoder(&hbuf) // fresh encoder: each block needs its own prefix
	for _, h := range headers {
		if err := enc.WriteField(qpack.HeaderField{Name: h.Name, Value: h.Value}); err != nil {
			return fmt.Errorf("h3: qpack encode: %w", err)
		}
	}

	var buf bytes.Buffer
	writeFrame(&buf, frameTypeHeaders, hbuf.Bytes())
	if _, err := st.qstream.Write(buf.Bytes()); err != nil {
		return err
	}
	if endStream {
		return st.qstream.Close()
	}
	return nil
}

// SubmitData implements [engine.Engine].
func (e *Engine) SubmitData(streamID int64, data []byte, endStream bool) error {
	e.mu.Lock()
	st, ok := e.streams[streamID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("h3: unknown stream %d", streamID)
	}

	var buf bytes.Buffer
	writeFrame(&buf, frameTypeData, data)
	if _, err := st.qstream.Write(buf.Bytes()); err != nil {
		return err
	}
	if endStream {
		return st.qstream.Close()
	}
	return nil
}

// SubmitStreamReset implements [engine.Engine].
func (e *Engine) SubmitStreamReset(streamID int64, errorCode uint64) error {
	e.mu.Lock()
	st, ok := e.streams[streamID]
	if ok {
		delete(e.streams, streamID)
	}
	e.evm.Append(&event.StreamResetSent{Stream: streamID, ErrorCode: errorCode})
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("h3: unknown stream %d", streamID)
	}
	st.qstream.CancelWrite(quic.StreamErrorCode(errorCode))
	st.qstream.CancelRead(quic.StreamErrorCode(errorCode))
	return nil
}

// SubmitClose implements [engine.Engine].
func (e *Engine) SubmitClose(errorCode uint64) error {
	e.mu.Lock()
	e.terminated = true
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.CloseWithError(quic.ApplicationErrorCode(errorCode), "")
}

// BytesToSend implements [engine.Engine], returning the next pending
// outbound UDP datagram, or nil if none is queued.
func (e *Engine) BytesToSend() []byte {
	return e.pconn.drain()
}

// BytesReceived implements [engine.Engine]; data is exactly one inbound
// UDP datagram.
func (e *Engine) BytesReceived(data []byte) {
	e.pconn.feed(data)
}

// NextEvent implements [engine.Engine].
func (e *Engine) NextEvent(streamID *int64) event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evm.PopLeft(streamID)
}

// HasPendingEvent implements [engine.Engine].
func (e *Engine) HasPendingEvent(streamID *int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if streamID == nil {
		return e.evm.Len() > 0
	}
	return e.evm.Count(*streamID, nil) > 0
}

// Reshelve implements [engine.Engine].
func (e *Engine) Reshelve(events ...event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evm.Reshelve(events...)
}

// readStream runs on a background goroutine per request stream,
// translating HTTP/3 frames into events until the peer ends the stream.
// Every read-error exit appends a terminal event (a synthetic EndStream
// DataReceived on a clean FIN, or a StreamResetReceived on a peer reset
// or framing error); a QPACK decoding failure instead terminates the
// whole connection through fail, posting a global ConnectionTerminated.
// This way [backend.LowLevelResponse.Read] — which
// only stops on an EndStream-flagged event or a reset — can never spin
// waiting for an event that will never arrive.
func (e *Engine) readStream(streamID int64, s quic.Stream) {
	r := bufio.NewReader(s)
	for {
		frameType, payload, err := readFrame(r)
		if err != nil {
			e.mu.Lock()
			_, stillTracked := e.streams[streamID]
			delete(e.streams, streamID)
			if stillTracked {
				// Only emit a terminal event if this stream wasn't
				// already removed by a local SubmitStreamReset — that
				// path already appended its own StreamResetSent, and a
				// CancelRead-induced wakeup here would otherwise post a
				// spurious second (received) reset for the same stream.
				if err == io.EOF {
					e.evm.Append(&event.DataReceived{Stream: streamID, EndStream: true})
				} else {
					e.evm.Append(&event.StreamResetReceived{Stream: streamID, ErrorCode: streamErrorCode(err)})
				}
			}
			e.mu.Unlock()
			return
		}

		switch frameType {
		case frameTypeHeaders:
			var fields []qpack.HeaderField
			dec := qpack.NewDecoder(nil)
			fields, derr := dec.DecodeFull(payload)
			if derr != nil {
				e.fail(fmt.Errorf("h3: qpack decode: %w", derr))
				return
			}
			pairs := make([][2]string, len(fields))
			for i, f := range fields {
				pairs[i] = [2]string{f.Name, f.Value}
			}
			e.mu.Lock()
			if status := firstStatus(fields); status >= 100 && status < 200 {
				e.evm.Append(&event.EarlyHeadersReceived{Stream: streamID, Headers: pairs})
			} else {
				e.evm.Append(&event.HeadersReceived{Stream: streamID, Headers: pairs})
			}
			e.mu.Unlock()

		case frameTypeData:
			e.mu.Lock()
			e.evm.Append(&event.DataReceived{Stream: streamID, Data: payload})
			e.mu.Unlock()

		default:
			// unknown frame type: ignored per RFC 9114 §9.
		}
	}
}

// streamErrorCode extracts the peer-supplied application error code from
// a QUIC stream reset, or 0 if err is a framing error local to this
// engine rather than a genuine [quic.StreamError].
func streamErrorCode(err error) uint64 {
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) {
		return uint64(streamErr.ErrorCode)
	}
	return 0
}

func firstStatus(fields []qpack.HeaderField) int {
	for _, f := range fields {
		if f.Name == ":status" {
			n := 0
			for _, c := range f.Value {
				if c < '0' || c > '9' {
					return -1
				}
				n = n*10 + int(c-'0')
			}
			return n
		}
	}
	return -1
}
