// SPDX-License-Identifier: GPL-3.0-or-later

package wsext

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
)

// frame is one decoded RFC 6455 WebSocket frame received from the
// server (server frames are never masked, per RFC 6455 §5.1).
type frame struct {
	fin     bool
	opcode  int
	payload []byte
}

// encodeFrame builds a complete, client-masked RFC 6455 frame for
// opcode/payload as a single buffer, so that exactly one [DSA.Send]
// call carries it — gorilla/websocket's own frame writer cannot be
// reused standalone here since its only exported entry points
// ([websocket.NewClient], [websocket.Upgrader.Upgrade]) each perform
// their own opening handshake, which conflicts with the DSA already
// owning the handshake (spec §4.7); this package instead hand-rolls the
// wire layer against RFC 6455, reusing gorilla/websocket's exported
// opcode and close-code constants and its [FormatCloseMessage] helper
// for everything that does not require a handshake-owning *Conn.
func encodeFrame(opcode int, payload []byte) ([]byte, error) {
	var header [14]byte
	header[0] = 0x80 | byte(opcode) // FIN always set: this package never fragments outgoing messages
	n := len(payload)

	var headerLen int
	switch {
	case n <= 125:
		header[1] = 0x80 | byte(n)
		headerLen = 2
	case n <= 65535:
		header[1] = 0x80 | 126
		binary.BigEndian.PutUint16(header[2:4], uint16(n))
		headerLen = 4
	default:
		header[1] = 0x80 | 127
		binary.BigEndian.PutUint64(header[2:10], uint64(n))
		headerLen = 10
	}

	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		return nil, err
	}
	copy(header[headerLen:headerLen+4], mask[:])
	headerLen += 4

	out := make([]byte, headerLen+n)
	copy(out, header[:headerLen])
	for i, b := range payload {
		out[headerLen+i] = b ^ mask[i%4]
	}
	return out, nil
}

// readFrame reads and decodes one frame from r, which must deliver
// bytes in order (see dsaReader).
func readFrame(r io.Reader) (*frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	fin := hdr[0]&0x80 != 0
	opcode := int(hdr[0] & 0x0f)
	masked := hdr[1]&0x80 != 0
	length := uint64(hdr[1] & 0x7f)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return &frame{fin: fin, opcode: opcode, payload: payload}, nil
}

// dsaReader adapts [DSA.RecvExtended]'s whole-buffer reads into the
// incremental [io.Reader] contract readFrame needs, buffering whatever
// trails past the last frame boundary until the next call.
type dsaReader struct {
	dsa  *DSA
	ctx  context.Context
	tail []byte
}

func (r *dsaReader) Read(p []byte) (int, error) {
	if len(r.tail) > 0 {
		n := copy(p, r.tail)
		r.tail = r.tail[n:]
		return n, nil
	}
	data, eot, _, err := r.dsa.RecvExtended(r.ctx, len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		if eot {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, data)
	if n < len(data) {
		r.tail = append(r.tail, data[n:]...)
	}
	return n, nil
}
