// SPDX-License-Identifier: GPL-3.0-or-later

package backend

// ResponsePromise identifies one in-flight multiplexed exchange. The
// pool's memorization table uses it to route a later GetResponse call
// back to the connection that owns the stream, even after the caller
// released the connection back to the pool in between (spec §4.5).
type ResponsePromise struct {
	streamID int64
}

func newResponsePromise(streamID int64) *ResponsePromise {
	return &ResponsePromise{streamID: streamID}
}

// StreamID returns the engine-assigned stream id this promise targets.
func (p *ResponsePromise) StreamID() int64 { return p.streamID }
