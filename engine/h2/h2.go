// SPDX-License-Identifier: GPL-3.0-or-later

// Package h2 implements the sans-I/O HTTP/2 [engine.Engine] on top of
// golang.org/x/net/http2's [http2.Framer] and HPACK codec: frame parsing
// and encoding come straight from that library, while this package only
// supplies the byte plumbing (feeding inbound bytes, draining outbound
// ones) and the translation into [event.Event] values.
//
// Because [http2.Framer.ReadFrame] blocks until a full frame's bytes are
// available, reading happens on a background goroutine pulling from a
// [blockingQueue] that [Engine.BytesReceived] feeds; a mutex guards the
// state the two goroutines share (streams, flow-control windows, the
// event matrix).
package h2

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/bassosimone/httpcore/engine"
	"github.com/bassosimone/httpcore/event"
)

const (
	defaultInitialWindow = 65535
	defaultMaxFrameSize  = 16384
)

type streamState struct {
	remoteWindow int64
	open         bool
}

// Engine implements [engine.Engine] for HTTP/2. Zero value is not ready
// for use; call [New].
type Engine struct {
	mu sync.Mutex

	out     bytes.Buffer
	outFr   *http2.Framer
	hEnc    *hpack.Encoder
	hEncBuf bytes.Buffer

	in    *blockingQueue
	inFr  *http2.Framer
	hDec  *hpack.Decoder
	evm   *event.Matrix
	ready chan struct{}

	nextStreamID  int64
	streams       map[int64]*streamState
	connWindow    int64
	peerMaxFrame  uint32
	peerMaxStream uint32
	settingsAcked bool

	goawayReceived bool
	lastStreamID   int64
	terminated     bool
}

// New returns a fresh HTTP/2 engine and queues the client preface
// SETTINGS frame for sending.
func New() *Engine {
	e := &Engine{
		in:            newBlockingQueue(),
		evm:           event.NewMatrix(),
		nextStreamID:  1,
		streams:       make(map[int64]*streamState),
		connWindow:    defaultInitialWindow,
		peerMaxFrame:  defaultMaxFrameSize,
		peerMaxStream: 1 << 31,
		ready:         make(chan struct{}),
	}
	e.outFr = http2.NewFramer(&e.out, nil)
	e.hEnc = hpack.NewEncoder(&e.hEncBuf)

	e.inFr = http2.NewFramer(io.Discard, e.in)
	e.hDec = hpack.NewDecoder(4096, nil)
	e.inFr.ReadMetaHeaders = e.hDec

	e.outFr.WriteSettings(
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: defaultInitialWindow},
		http2.Setting{ID: http2.SettingMaxFrameSize, Val: defaultMaxFrameSize},
	)

	go e.readLoop()
	return e
}

var _ engine.Engine = (*Engine)(nil)

// IsAvailable implements [engine.Engine].
func (e *Engine) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated || e.goawayReceived {
		return false
	}
	return uint32(e.openStreamCountLocked()) < e.peerMaxStream
}

func (e *Engine) openStreamCountLocked() int {
	n := 0
	for _, s := range e.streams {
		if s.open {
			n++
		}
	}
	return n
}

// IsIdle implements [engine.Engine].
func (e *Engine) IsIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openStreamCountLocked() == 0
}

// HasExpired implements [engine.Engine].
func (e *Engine) HasExpired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated || e.goawayReceived
}

// GetAvailableStreamID implements [engine.Engine]. HTTP/2 client-initiated
// streams use odd ids starting at 1.
func (e *Engine) GetAvailableStreamID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextStreamID
	e.nextStreamID += 2
	return id
}

// MaxFrameSize implements [engine.Engine].
func (e *Engine) MaxFrameSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.peerMaxFrame)
}

// NextTimerInstant implements [engine.Engine]. HTTP/2 over a reliable
// byte stream needs no timer ticks of its own.
func (e *Engine) NextTimerInstant() time.Time {
	return time.Time{}
}

// ShouldWaitRemoteFlowControl implements [engine.Engine].
func (e *Engine) ShouldWaitRemoteFlowControl(streamID int64, amt int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[streamID]
	if !ok {
		return false
	}
	need := int64(amt)
	if need == 0 {
		need = 1
	}
	return e.connWindow < need || s.remoteWindow < need
}

// SubmitHeaders implements [engine.Engine].
func (e *Engine) SubmitHeaders(streamID int64, headers []engine.Header, endStream bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hEncBuf.Reset()
	for _, h := range headers {
		if err := e.hEnc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value}); err != nil {
			return fmt.Errorf("h2: hpack encode: %w", err)
		}
	}
	block := e.hEncBuf.Bytes()

	e.streams[streamID] = &streamState{remoteWindow: defaultInitialWindow, open: true}

	max := int(e.peerMaxFrame)
	if len(block) <= max {
		return e.outFr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      uint32(streamID),
			BlockFragment: block,
			EndStream:     endStream,
			EndHeaders:    true,
		})
	}

	first, rest := block[:max], block[max:]
	if err := e.outFr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      uint32(streamID),
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    false,
	}); err != nil {
		return err
	}
	for len(rest) > max {
		if err := e.outFr.WriteContinuation(uint32(streamID), false, rest[:max]); err != nil {
			return err
		}
		rest = rest[max:]
	}
	return e.outFr.WriteContinuation(uint32(streamID), true, rest)
}

// SubmitData implements [engine.Engine].
func (e *Engine) SubmitData(streamID int64, data []byte, endStream bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[streamID]
	if !ok {
		return fmt.Errorf("h2: unknown stream %d", streamID)
	}
	if err := e.outFr.WriteData(uint32(streamID), endStream, data); err != nil {
		return err
	}
	s.remoteWindow -= int64(len(data))
	e.connWindow -= int64(len(data))
	return nil
}

// SubmitStreamReset implements [engine.Engine].
func (e *Engine) SubmitStreamReset(streamID int64, errorCode uint64) error {
	e.mu.Lock()
	if s, ok := e.streams[streamID]; ok {
		s.open = false
	}
	e.evm.Append(&event.StreamResetSent{Stream: streamID, ErrorCode: errorCode})
	e.mu.Unlock()
	return e.outFr.WriteRSTStream(uint32(streamID), http2.ErrCode(errorCode))
}

// SubmitClose implements [engine.Engine].
func (e *Engine) SubmitClose(errorCode uint64) error {
	e.mu.Lock()
	last := e.lastStreamID
	e.terminated = true
	e.mu.Unlock()
	e.in.Close()
	return e.outFr.WriteGoAway(uint32(last), http2.ErrCode(errorCode), nil)
}

// BytesToSend implements [engine.Engine].
func (e *Engine) BytesToSend() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := make([]byte, e.out.Len())
	copy(b, e.out.Bytes())
	e.out.Reset()
	return b
}

// BytesReceived implements [engine.Engine].
func (e *Engine) BytesReceived(data []byte) {
	e.in.Write(data)
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

// readLoop runs on a background goroutine for the lifetime of the
// engine, translating inbound frames into events as they arrive.
func (e *Engine) readLoop() {
	for {
		fr, err := e.inFr.ReadFrame()
		if err != nil {
			e.mu.Lock()
			if !e.terminated {
				e.terminated = true
				e.evm.Append(&event.ConnectionTerminated{Err: err})
			}
			e.mu.Unlock()
			return
		}
		e.handleFrame(fr)
	}
}

func (e *Engine) handleFrame(fr http2.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch f := fr.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			e.settingsAcked = true
			break
		}
		f.ForeachSetting(func(s http2.Setting) error {
			switch s.ID {
			case http2.SettingMaxFrameSize:
				e.peerMaxFrame = s.Val
			case http2.SettingMaxConcurrentStreams:
				e.peerMaxStream = s.Val
			}
			return nil
		})
		e.outFr.WriteSettingsAck()

	case *http2.MetaHeadersFrame:
		pairs := make([][2]string, 0, len(f.Fields))
		for _, field := range f.Fields {
			pairs = append(pairs, [2]string{field.Name, field.Value})
		}
		stream := int64(f.StreamID)
		if status := firstStatus(f.Fields); status >= 100 && status < 200 {
			e.evm.Append(&event.EarlyHeadersReceived{Stream: stream, Headers: pairs})
			return
		}
		e.evm.Append(&event.HeadersReceived{
			Stream:    stream,
			Headers:   pairs,
			EndStream: f.StreamEnded(),
			Trailer:   false,
		})
		if f.StreamEnded() {
			if s, ok := e.streams[stream]; ok {
				s.open = false
			}
		}

	case *http2.DataFrame:
		data := append([]byte(nil), f.Data()...)
		stream := int64(f.StreamID)
		e.evm.Append(&event.DataReceived{Stream: stream, Data: data, EndStream: f.StreamEnded()})
		if f.StreamEnded() {
			if s, ok := e.streams[stream]; ok {
				s.open = false
			}
		}

	case *http2.RSTStreamFrame:
		stream := int64(f.StreamID)
		if s, ok := e.streams[stream]; ok {
			s.open = false
		}
		e.evm.Append(&event.StreamResetReceived{Stream: stream, ErrorCode: uint64(f.ErrCode)})

	case *http2.GoAwayFrame:
		e.goawayReceived = true
		e.evm.Append(&event.GoawayReceived{
			LastStreamID: int64(f.LastStreamID),
			ErrorCode:    uint64(f.ErrCode),
			DebugData:    string(f.DebugData()),
		})

	case *http2.WindowUpdateFrame:
		if f.StreamID == 0 {
			e.connWindow += int64(f.Increment)
		} else if s, ok := e.streams[int64(f.StreamID)]; ok {
			s.remoteWindow += int64(f.Increment)
		}

	case *http2.PingFrame:
		if !f.IsAck() {
			e.outFr.WritePing(true, f.Data)
		}

	default:
		// unknown or unhandled frame type (PRIORITY, etc.); ignored.
	}
}

func firstStatus(fields []hpack.HeaderField) int {
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
