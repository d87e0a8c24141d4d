// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"bufio"
	"bytes"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// HTTP/3 frame and stream types, RFC 9114 §7.2 and §3.2.
const (
	frameTypeData     = 0x0
	frameTypeHeaders  = 0x1
	frameTypeSettings = 0x4
	frameTypeGoaway   = 0x7

	streamTypeControl = 0x0
)

// writeFrame appends a length-prefixed HTTP/3 frame to buf.
func writeFrame(buf *bytes.Buffer, frameType uint64, payload []byte) {
	buf.Write(quicvarint.Append(nil, frameType))
	buf.Write(quicvarint.Append(nil, uint64(len(payload))))
	buf.Write(payload)
}

// readFrame reads one length-prefixed HTTP/3 frame from r, returning its
// type and payload. It returns io.EOF once the peer has cleanly ended
// the stream with no partial frame pending.
func readFrame(r *bufio.Reader) (frameType uint64, payload []byte, err error) {
	frameType, err = quicvarint.Read(r)
	if err != nil {
		return 0, nil, err
	}
	length, err := quicvarint.Read(r)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return frameType, payload, nil
}
