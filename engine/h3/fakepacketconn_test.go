// SPDX-License-Identifier: GPL-3.0-or-later

package h3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// drain returns nil when nothing has been written, and the queued bytes
// once WriteTo delivers them.
func TestFakePacketConnDrain(t *testing.T) {
	c := newFakePacketConn()
	assert.Nil(t, c.drain())

	n, err := c.WriteTo([]byte("datagram"), c.remote)
	assert.NoError(t, err)
	assert.Equal(t, len("datagram"), n)

	assert.Equal(t, []byte("datagram"), c.drain())
	assert.Nil(t, c.drain())
}

// feed delivers bytes to a pending ReadFrom.
func TestFakePacketConnFeed(t *testing.T) {
	c := newFakePacketConn()

	done := make(chan struct{})
	var got []byte
	go func() {
		buf := make([]byte, 64)
		n, _, err := c.ReadFrom(buf)
		assert.NoError(t, err)
		got = buf[:n]
		close(done)
	}()

	c.feed([]byte("inbound"))
	<-done
	assert.Equal(t, "inbound", string(got))
}

// Close unblocks a pending ReadFrom with an error rather than hanging.
func TestFakePacketConnCloseUnblocksRead(t *testing.T) {
	c := newFakePacketConn()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		_, _, err := c.ReadFrom(buf)
		assert.Error(t, err)
		close(done)
	}()

	c.Close()
	<-done
}
