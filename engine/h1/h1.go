// SPDX-License-Identifier: GPL-3.0-or-later

// Package h1 implements the sans-I/O HTTP/1.1 [engine.Engine]: a single
// in-flight request/response exchange at a time, on the conventional
// stream id 1, with chunked and content-length response decoding done
// entirely against fed bytes rather than a live connection.
package h1

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/bassosimone/httpcore/engine"
	"github.com/bassosimone/httpcore/event"
)

// StreamID is the single, conventional stream id an HTTP/1 engine ever
// uses, mirroring the original design's "stream id 1 by convention".
const StreamID int64 = 1

type state int

const (
	stateIdle state = iota
	stateRequestSent
	stateReadingHeaders
	stateReadingBody
	stateDone
	stateTerminated
	// stateUpgraded is entered on a 101 Switching Protocols status: HTTP/1
	// framing stops entirely and every subsequent byte is passed straight
	// through as DataReceived, belonging to whatever protocol (WebSocket,
	// a raw extension) the caller negotiated. The connection never
	// becomes available or idle again; only a reset/close ends it.
	stateUpgraded
)

// Engine implements [engine.Engine] for HTTP/1.1. Zero value is not
// ready for use; call [New].
type Engine struct {
	out   bytes.Buffer
	in    bytes.Buffer
	state state
	ev    *event.Matrix

	// response decoding state, valid once headers are fully parsed
	chunked    bool
	haveLength bool
	remaining  int64 // bytes remaining for content-length bodies
	closeAfter bool  // "Connection: close" seen

	terminatedErr error
}

// New returns a fresh HTTP/1.1 engine with no in-flight stream.
func New() *Engine {
	return &Engine{ev: event.NewMatrix()}
}

var _ engine.Engine = (*Engine)(nil)

// IsAvailable implements [engine.Engine]. HTTP/1 admits one stream at a
// time, so it is only available when fully idle.
func (e *Engine) IsAvailable() bool {
	return e.state != stateTerminated && (e.state == stateIdle || e.state == stateDone)
}

// IsIdle implements [engine.Engine]. A terminated connection trivially
// has no open streams too: stateUpgraded is the only state that keeps a
// stream open without end, which is why a reset (stateTerminated) is
// what finally lets the pool's memorization table drop an upgraded
// (WebSocket/DSA) connection once the caller closes it.
func (e *Engine) IsIdle() bool {
	return e.state == stateIdle || e.state == stateDone || e.state == stateTerminated
}

// HasExpired implements [engine.Engine]. HTTP/1 has no goaway frame;
// "Connection: close" plays the same role.
func (e *Engine) HasExpired() bool {
	return e.state == stateTerminated || e.closeAfter
}

// GetAvailableStreamID implements [engine.Engine].
func (e *Engine) GetAvailableStreamID() int64 {
	return StreamID
}

// MaxFrameSize implements [engine.Engine]. HTTP/1 has no framing limit
// beyond what the caller chooses to write at once.
func (e *Engine) MaxFrameSize() int {
	return 1 << 20
}

// NextTimerInstant implements [engine.Engine]. HTTP/1 has no timer-driven
// work; it is purely byte-driven.
func (e *Engine) NextTimerInstant() time.Time {
	return time.Time{}
}

// ShouldWaitRemoteFlowControl implements [engine.Engine]. HTTP/1 has no
// flow control; the TCP socket itself provides backpressure.
func (e *Engine) ShouldWaitRemoteFlowControl(streamID int64, amt int) bool {
	return false
}

// SubmitHeaders implements [engine.Engine] by serializing a request line
// and header block to the outbound buffer.
func (e *Engine) SubmitHeaders(streamID int64, headers []engine.Header, endStream bool) error {
	if e.state != stateIdle {
		return fmt.Errorf("h1: engine busy, cannot submit headers")
	}
	method, path, host := "GET", "/", ""
	var lines []engine.Header
	for _, h := range headers {
		switch strings.ToLower(h.Name) {
		case ":method":
			method = h.Value
		case ":path":
			path = h.Value
		case ":authority", "host":
			host = h.Value
		default:
			lines = append(lines, h)
		}
	}
	fmt.Fprintf(&e.out, "%s %s HTTP/1.1\r\n", method, path)
	if host != "" {
		fmt.Fprintf(&e.out, "Host: %s\r\n", host)
	}
	for _, h := range lines {
		fmt.Fprintf(&e.out, "%s: %s\r\n", h.Name, h.Value)
	}
	e.out.WriteString("\r\n")
	e.state = stateRequestSent
	if endStream {
		e.state = stateReadingHeaders
	}
	return nil
}

// SubmitData implements [engine.Engine] by appending raw request body
// bytes to the outbound buffer.
func (e *Engine) SubmitData(streamID int64, data []byte, endStream bool) error {
	if e.state != stateRequestSent {
		return fmt.Errorf("h1: no request awaiting a body")
	}
	e.out.Write(data)
	if endStream {
		e.state = stateReadingHeaders
	}
	return nil
}

// SubmitStreamReset implements [engine.Engine]. HTTP/1 has no mid-stream
// reset primitive; the only option is to terminate the connection, so
// this records an [event.ConnectionTerminated] rather than an
// [event.StreamResetSent].
func (e *Engine) SubmitStreamReset(streamID int64, errorCode uint64) error {
	e.terminate(fmt.Errorf("h1: stream reset requested (code %d)", errorCode))
	return nil
}

// SubmitClose implements [engine.Engine].
func (e *Engine) SubmitClose(errorCode uint64) error {
	e.terminate(nil)
	return nil
}

// BytesToSend implements [engine.Engine].
func (e *Engine) BytesToSend() []byte {
	b := make([]byte, e.out.Len())
	copy(b, e.out.Bytes())
	e.out.Reset()
	return b
}

// BytesReceived implements [engine.Engine].
func (e *Engine) BytesReceived(data []byte) {
	if e.state == stateTerminated {
		return
	}
	e.in.Write(data)
	e.pump()
}

func (e *Engine) pump() {
	if e.state == stateReadingHeaders {
		e.tryParseHeaders()
	}
	if e.state == stateReadingBody {
		e.tryParseBody()
	}
	if e.state == stateUpgraded {
		e.pumpUpgraded()
	}
}

// pumpUpgraded flushes whatever bytes have accumulated once the
// connection has left HTTP/1 framing behind: every byte from here on
// belongs to the negotiated extension protocol, not to a response body.
func (e *Engine) pumpUpgraded() {
	if e.in.Len() == 0 {
		return
	}
	data := e.in.Next(e.in.Len())
	e.ev.Append(&event.DataReceived{Stream: StreamID, Data: data})
}

func (e *Engine) tryParseHeaders() {
	snapshot := e.in.Bytes()
	if !bytes.Contains(snapshot, []byte("\r\n\r\n")) {
		return // need more bytes: the header block is not complete yet
	}
	r := bufio.NewReaderSize(bytes.NewReader(snapshot), len(snapshot)+1)
	tp := textproto.NewReader(r)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return // need more bytes
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		e.terminate(fmt.Errorf("h1: malformed status line %q", statusLine))
		return
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		e.terminate(fmt.Errorf("h1: malformed status code %q", parts[1]))
		return
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		return // need more bytes; ReadMIMEHeader consumed nothing on EOF
	}

	consumed := len(snapshot) - r.Buffered()
	e.in.Next(consumed)

	var hdrs []engine.Header
	for k, vs := range mimeHeader {
		for _, v := range vs {
			hdrs = append(hdrs, engine.Header{Name: k, Value: v})
		}
	}

	if code == http.StatusSwitchingProtocols {
		e.ev.Append(&event.HeadersReceived{Stream: StreamID, Headers: toPairs(hdrs), EndStream: false})
		e.state = stateUpgraded
		e.pumpUpgraded()
		return
	}

	if code >= 100 && code < 200 {
		e.ev.Append(&event.EarlyHeadersReceived{Stream: StreamID, Headers: toPairs(hdrs)})
		e.tryParseHeaders() // informational responses carry no body; parse what follows
		return
	}

	e.closeAfter = strings.EqualFold(mimeHeader.Get("Connection"), "close")
	e.chunked = strings.EqualFold(mimeHeader.Get("Transfer-Encoding"), "chunked")
	if cl := mimeHeader.Get("Content-Length"); cl != "" && !e.chunked {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			e.haveLength = true
			e.remaining = n
		}
	}

	noBody := statusImpliesNoBody(code) || (!e.chunked && e.haveLength && e.remaining == 0)
	e.ev.Append(&event.HeadersReceived{
		Stream:    StreamID,
		Headers:   toPairs(hdrs),
		EndStream: noBody,
	})
	if noBody {
		e.state = stateDone
		return
	}
	e.state = stateReadingBody
	e.tryParseBody()
}

func statusImpliesNoBody(code int) bool {
	return code == http.StatusNoContent || code == http.StatusNotModified
}

func (e *Engine) tryParseBody() {
	for {
		switch {
		case e.chunked:
			if !e.tryParseChunk() {
				return
			}
		case e.haveLength:
			if !e.tryParseFixedLength() {
				return
			}
		default:
			// no framing info: deliver whatever arrived and wait for
			// the peer to close the connection to signal EOT.
			if e.in.Len() == 0 {
				return
			}
			data := e.in.Next(e.in.Len())
			e.ev.Append(&event.DataReceived{Stream: StreamID, Data: data})
			return
		}
		if e.state == stateDone {
			return
		}
	}
}

func (e *Engine) tryParseFixedLength() bool {
	if e.remaining == 0 {
		e.ev.Append(&event.DataReceived{Stream: StreamID, EndStream: true})
		e.state = stateDone
		return false
	}
	n := int64(e.in.Len())
	if n == 0 {
		return false
	}
	if n > e.remaining {
		n = e.remaining
	}
	data := e.in.Next(int(n))
	e.remaining -= n
	end := e.remaining == 0
	e.ev.Append(&event.DataReceived{Stream: StreamID, Data: data, EndStream: end})
	if end {
		e.state = stateDone
	}
	return !end
}

func (e *Engine) tryParseChunk() bool {
	snapshot := e.in.Bytes()
	idx := bytes.Index(snapshot, []byte("\r\n"))
	if idx < 0 {
		return false
	}
	sizeLine := string(snapshot[:idx])
	if semi := strings.IndexByte(sizeLine, ';'); semi >= 0 {
		sizeLine = sizeLine[:semi]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
	if err != nil {
		e.terminate(fmt.Errorf("h1: malformed chunk size %q", sizeLine))
		return false
	}

	need := idx + 2 + int(size) + 2
	if len(snapshot) < need {
		return false
	}

	e.in.Next(idx + 2)
	data := e.in.Next(int(size))
	e.in.Next(2) // trailing CRLF

	if size == 0 {
		e.ev.Append(&event.DataReceived{Stream: StreamID, EndStream: true})
		e.state = stateDone
		return false
	}
	e.ev.Append(&event.DataReceived{Stream: StreamID, Data: data})
	return true
}

func (e *Engine) terminate(err error) {
	if e.state == stateTerminated {
		return
	}
	e.state = stateTerminated
	e.terminatedErr = err
	e.ev.Append(&event.ConnectionTerminated{Err: err})
}

// NextEvent implements [engine.Engine].
func (e *Engine) NextEvent(streamID *int64) event.Event {
	return e.ev.PopLeft(streamID)
}

// HasPendingEvent implements [engine.Engine].
func (e *Engine) HasPendingEvent(streamID *int64) bool {
	if streamID == nil {
		return e.ev.Len() > 0
	}
	return e.ev.Count(*streamID, nil) > 0
}

// Reshelve implements [engine.Engine].
func (e *Engine) Reshelve(events ...event.Event) {
	e.ev.Reshelve(events...)
}

func toPairs(hdrs []engine.Header) [][2]string {
	pairs := make([][2]string, len(hdrs))
	for i, h := range hdrs {
		pairs[i] = [2]string{h.Name, h.Value}
	}
	return pairs
}

// Reset discards all per-exchange state so the engine can be reused for
// the next request on a keep-alive connection (only valid once
// [Engine.IsIdle] reports true and no goaway-equivalent occurred).
func (e *Engine) Reset() {
	if e.closeAfter || e.state == stateTerminated || e.state == stateUpgraded {
		return
	}
	e.state = stateIdle
	e.chunked = false
	e.haveLength = false
	e.remaining = 0
}
