// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"net"
	"sync"
	"time"
)

// fakePacketConn is a [net.PacketConn] backed by in-memory channels
// instead of a real UDP socket. quic-go's [quic.Transport] is driven
// entirely through this adapter, so the actual QUIC handshake and
// packet-level state machine run for real while [Engine.BytesReceived]
// and [Engine.BytesToSend] stay the only points where bytes cross into
// or out of the engine — the same sans-I/O contract h1 and h2 offer,
// applied one datagram at a time instead of one byte stream.
type fakePacketConn struct {
	inbound   chan []byte
	outbound  chan []byte
	closeOnce sync.Once
	closed    chan struct{}
	local     net.Addr
	remote    net.Addr
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
		local:    &net.UDPAddr{IP: net.IPv4zero, Port: 0},
		remote:   &net.UDPAddr{IP: net.IPv4zero, Port: 0},
	}
}

// feed delivers one inbound datagram, as read by the caller from the
// real socket, to whatever is blocked in ReadFrom.
func (c *fakePacketConn) feed(datagram []byte) {
	cp := append([]byte(nil), datagram...)
	select {
	case c.inbound <- cp:
	case <-c.closed:
	}
}

// drain returns the next queued outbound datagram, or nil if none is
// pending.
func (c *fakePacketConn) drain() []byte {
	select {
	case b := <-c.outbound:
		return b
	default:
		return nil
	}
}

func (c *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case b := <-c.inbound:
		return copy(p, b), c.remote, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakePacketConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	b := append([]byte(nil), p...)
	select {
	case c.outbound <- b:
		return len(p), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *fakePacketConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakePacketConn) LocalAddr() net.Addr { return c.local }

func (c *fakePacketConn) SetDeadline(time.Time) error      { return nil }
func (c *fakePacketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakePacketConn) SetWriteDeadline(time.Time) error { return nil }
