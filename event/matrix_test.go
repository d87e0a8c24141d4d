// SPDX-License-Identifier: GPL-3.0-or-later

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataEvent(stream int64, data string) *DataReceived {
	return &DataReceived{Stream: stream, Data: []byte(data)}
}

// PopLeft preserves per-stream FIFO order when polled by stream id.
func TestMatrixPerStreamFIFO(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(1, "a"))
	m.Append(dataEvent(1, "b"))
	m.Append(dataEvent(3, "x"))
	m.Append(dataEvent(1, "c"))

	one := int64(1)
	ev1 := m.PopLeft(&one).(*DataReceived)
	ev2 := m.PopLeft(&one).(*DataReceived)
	ev3 := m.PopLeft(&one).(*DataReceived)

	assert.Equal(t, "a", string(ev1.Data))
	assert.Equal(t, "b", string(ev2.Data))
	assert.Equal(t, "c", string(ev3.Data))
	assert.Equal(t, 1, m.Len())
}

// PopLeft without a stream id drains the lowest-numbered stream first.
func TestMatrixPopLeftLowestStream(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(5, "five"))
	m.Append(dataEvent(2, "two"))
	m.Append(dataEvent(9, "nine"))

	ev := m.PopLeft(nil).(*DataReceived)
	assert.Equal(t, "two", string(ev.Data))
}

// PopLeft surfaces a global event ahead of a named stream's head event
// when the global event arrived first.
func TestMatrixGlobalEventPrecedesStream(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(1, "before-goaway"))
	m.Append(&GoawayReceived{LastStreamID: 1})
	m.Append(dataEvent(1, "after-goaway"))

	one := int64(1)
	first := m.PopLeft(&one)
	_, isData := first.(*DataReceived)
	require.True(t, isData)
	assert.Equal(t, "before-goaway", string(first.(*DataReceived).Data))

	second := m.PopLeft(&one)
	_, isGoaway := second.(*GoawayReceived)
	require.True(t, isGoaway)

	third := m.PopLeft(&one).(*DataReceived)
	assert.Equal(t, "after-goaway", string(third.Data))
}

// PopLeft with no stream id still prefers an older global event over any
// stream's head event, but a global event that arrives after a
// stream's head event does not preempt it.
func TestMatrixGlobalEventPrecedesUnscopedPop(t *testing.T) {
	m := NewMatrix()
	m.Append(&ConnectionTerminated{})
	m.Append(dataEvent(7, "stream-data"))

	ev := m.PopLeft(nil)
	_, isTerminated := ev.(*ConnectionTerminated)
	assert.True(t, isTerminated)
}

// A global event queued after a stream's pending head event is not
// reordered ahead of it.
func TestMatrixLateGlobalEventDoesNotPreempt(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(7, "stream-data"))
	m.Append(&ConnectionTerminated{})

	ev := m.PopLeft(nil).(*DataReceived)
	assert.Equal(t, "stream-data", string(ev.Data))
}

// PopLeft on an empty matrix returns nil.
func TestMatrixPopLeftEmpty(t *testing.T) {
	m := NewMatrix()
	assert.Nil(t, m.PopLeft(nil))
	one := int64(1)
	assert.Nil(t, m.PopLeft(&one))
}

// Streams reports the sorted set of stream ids with pending events and
// drops a stream once its queue is drained.
func TestMatrixStreams(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(3, "c"))
	m.Append(dataEvent(1, "a"))
	m.Append(dataEvent(2, "b"))

	assert.Equal(t, []int64{1, 2, 3}, m.Streams())

	one := int64(1)
	m.PopLeft(&one)
	assert.Equal(t, []int64{2, 3}, m.Streams())
}

// Reshelve pushes events back to the head of their stream queues in
// their original relative order.
func TestMatrixReshelve(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(1, "a"))
	m.Append(dataEvent(1, "b"))

	one := int64(1)
	first := m.PopLeft(&one)
	second := m.PopLeft(&one)

	m.Reshelve(first, second)

	got1 := m.PopLeft(&one).(*DataReceived)
	got2 := m.PopLeft(&one).(*DataReceived)
	assert.Equal(t, "a", string(got1.Data))
	assert.Equal(t, "b", string(got2.Data))
}

// Count reports the number of pending events for a given stream.
func TestMatrixCount(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(1, "a"))
	m.Append(dataEvent(1, "b"))
	m.Append(dataEvent(2, "c"))

	assert.Equal(t, 2, m.Count(1, nil))
	assert.Equal(t, 1, m.Count(2, nil))
	assert.Equal(t, 0, m.Count(99, nil))
	assert.Equal(t, 3, m.Len())
}

// Count with an exclude predicate filters matching events out of the
// tally without removing them from the queue.
func TestMatrixCountExclude(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(1, "a"))
	m.Append(&StreamResetReceived{Stream: 1})

	excludeReset := func(e Event) bool {
		_, ok := e.(*StreamResetReceived)
		return ok
	}
	assert.Equal(t, 1, m.Count(1, excludeReset))
	assert.Equal(t, 2, m.Count(1, nil))
}

// Extend assigns each event its own sequence number in insertion order.
func TestMatrixExtend(t *testing.T) {
	m := NewMatrix()
	m.Extend([]Event{dataEvent(1, "a"), dataEvent(1, "b")})

	one := int64(1)
	got := m.PopLeft(&one).(*DataReceived)
	assert.Equal(t, "a", string(got.Data))
}

// AppendLeft inserts at the head of a stream's queue.
func TestMatrixAppendLeft(t *testing.T) {
	m := NewMatrix()
	m.Append(dataEvent(1, "second"))
	m.AppendLeft(dataEvent(1, "first"))

	one := int64(1)
	got := m.PopLeft(&one).(*DataReceived)
	assert.Equal(t, "first", string(got.Data))
}
