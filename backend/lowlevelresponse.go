// SPDX-License-Identifier: GPL-3.0-or-later

package backend

import (
	"context"
	"io"
	"strconv"

	"github.com/bassosimone/httpcore/errs"
	"github.com/bassosimone/httpcore/event"
)

// LowLevelResponse is a streaming reader over one exchange's response:
// Read pulls DataReceived events from the engine on demand; each call
// returns the bytes of at most one event (or the leftover tail of an
// earlier one), so consecutive events are not merged into one read.
// Closing it deregisters the stream from the engine (spec §4.4).
type LowLevelResponse struct {
	backend  *Backend
	streamID int64

	// StatusCode is the numeric :status pseudo-header value.
	StatusCode int

	// Headers preserves wire order and repeated keys.
	Headers [][2]string

	// EarlyHeaders carries any 1xx informational header blocks that
	// preceded the final response on this stream, in arrival order.
	EarlyHeaders [][][2]string

	dataInCount int64
	tail        []byte
	eot         bool
	closed      bool
}

func newLowLevelResponse(b *Backend, streamID int64, headers [][2]string, endStream bool, early [][][2]string) *LowLevelResponse {
	status, _ := statusFromHeaders(headers)
	return &LowLevelResponse{
		backend:      b,
		streamID:     streamID,
		StatusCode:   status,
		Headers:      headers,
		EarlyHeaders: early,
		eot:          endStream,
	}
}

// DataInCount reports how many response body bytes have been delivered
// to the caller so far.
func (r *LowLevelResponse) DataInCount() int64 { return r.dataInCount }

// Read has [io.Reader] semantics plus a context bounding any socket read
// it performs. It returns buffered tail bytes if there are any, otherwise
// the data of the next DataReceived event for this stream, keeping what
// does not fit in p for the next call; it does not wait for more events
// to fill p.
func (r *LowLevelResponse) Read(ctx context.Context, p []byte) (int, error) {
	if len(r.tail) > 0 {
		n := copy(p, r.tail)
		r.tail = r.tail[n:]
		r.dataInCount += int64(n)
		return n, nil
	}
	if r.eot {
		return 0, io.EOF
	}

	for {
		streamID := r.streamID
		r.backend.mu.Lock()
		ev := r.backend.eng.NextEvent(&streamID)
		r.backend.mu.Unlock()

		switch e := ev.(type) {
		case nil:
			if err := r.backend.pumpOnce(ctx); err != nil {
				return 0, err
			}
			continue
		case *event.DataReceived:
			if e.EndStream {
				r.eot = true
			}
			n := copy(p, e.Data)
			if n < len(e.Data) {
				r.tail = append(r.tail, e.Data[n:]...)
			}
			r.dataInCount += int64(n)
			if n == 0 && r.eot {
				return 0, io.EOF
			}
			return n, nil
		case *event.StreamResetReceived:
			return 0, errs.New(errs.KindProtocol, "read",
				errStreamReset(e.ErrorCode))
		case *event.ConnectionTerminated:
			return 0, errs.New(errs.KindProtocol, "read", e.Err)
		default:
			continue
		}
	}
}

// Close deregisters the stream from the engine. It is safe to call more
// than once.
func (r *LowLevelResponse) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.eot {
		return nil
	}
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	return r.backend.eng.SubmitStreamReset(r.streamID, 0)
}

func errStreamReset(code uint64) error {
	return errStreamResetError{code: code}
}

type errStreamResetError struct{ code uint64 }

func (e errStreamResetError) Error() string {
	return "stream reset by peer (code " + strconv.FormatUint(e.code, 10) + ")"
}
