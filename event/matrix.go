// SPDX-License-Identifier: GPL-3.0-or-later

package event

import "sort"

// Matrix stores pending events for a multiplexed connection, keyed by
// stream id, plus a distinguished bucket for connection-global events
// (see [GlobalStreamID]). It preserves per-stream FIFO order while
// letting a caller that polls without naming a stream drain the
// lowest-numbered stream first, and always prefers a global event that
// arrived before the head of whichever stream is about to be popped.
//
// Grounded on the original implementation's StreamMatrix: append/extend
// assign each event a fresh, monotonically increasing sequence number;
// popleft compares that number against the head of the global bucket to
// decide whether a goaway or termination event must be surfaced first.
//
// A zero Matrix is not ready for use; call [NewMatrix].
type Matrix struct {
	buckets    map[int64][]Event
	count      int
	cursor     int64
	streams    []int64
	streamsSet bool
}

// NewMatrix returns an empty [Matrix].
func NewMatrix() *Matrix {
	return &Matrix{buckets: make(map[int64][]Event)}
}

// Len reports the total number of pending events across all streams.
func (m *Matrix) Len() int { return m.count }

// Streams returns the sorted list of stream ids (excluding the global
// bucket) that currently have at least one pending event. The slice is
// cached until the next structural change (a bucket becoming empty or a
// new bucket appearing).
func (m *Matrix) Streams() []int64 {
	if m.streamsSet {
		return m.streams
	}
	ids := make([]int64, 0, len(m.buckets))
	for id := range m.buckets {
		if id == GlobalStreamID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	m.streams = ids
	m.streamsSet = true
	return m.streams
}

func (m *Matrix) nextSeq() int64 {
	v := m.cursor
	m.cursor++
	return v
}

// Append inserts e at the tail of its stream's queue (or the global
// queue, for an event whose StreamID is [GlobalStreamID]).
func (m *Matrix) Append(e Event) {
	e.setID(m.nextSeq())
	id := e.StreamID()
	if _, ok := m.buckets[id]; !ok {
		m.streamsSet = false
		m.buckets[id] = nil
	}
	m.buckets[id] = append(m.buckets[id], e)
	m.count++
}

// Extend inserts every event in es, in order, each receiving its own
// fresh sequence number as if appended individually.
func (m *Matrix) Extend(es []Event) {
	for _, e := range es {
		m.Append(e)
	}
}

// AppendLeft inserts e at the head of its stream's queue with a fresh
// sequence number. [Matrix.Reshelve] does its own head insertion and
// does not call it.
func (m *Matrix) AppendLeft(e Event) {
	e.setID(m.nextSeq())
	id := e.StreamID()
	if _, ok := m.buckets[id]; !ok {
		m.streamsSet = false
		m.buckets[id] = nil
	}
	m.buckets[id] = append([]Event{e}, m.buckets[id]...)
	m.count++
}

// Reshelve pushes events back onto the head of their respective stream
// queues, preserving their relative order and existing sequence numbers
// (unlike [Matrix.AppendLeft], it does not renumber them), so a later
// PopLeft observes them again before any newer arrival.
func (m *Matrix) Reshelve(events ...Event) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		id := e.StreamID()
		if _, ok := m.buckets[id]; !ok {
			m.streamsSet = false
			m.buckets[id] = nil
		}
		m.buckets[id] = append([]Event{e}, m.buckets[id]...)
		m.count++
	}
}

// PopLeft removes and returns the next event to deliver. If streamID is
// non-nil, it prefers that stream's head event unless a global event
// with a smaller sequence number is pending, in which case the global
// event is returned instead. If streamID is nil, it pops from the
// lowest-numbered stream that has a pending event (again deferring to an
// older global event). It returns nil if there is nothing to pop.
func (m *Matrix) PopLeft(streamID *int64) Event {
	if m.count == 0 {
		return nil
	}

	globalBucket, haveGlobal := m.buckets[GlobalStreamID]
	haveGlobal = haveGlobal && len(globalBucket) > 0

	var target int64
	haveTarget := false
	if streamID != nil {
		target, haveTarget = *streamID, true
	} else if streams := m.Streams(); len(streams) > 0 && m.Count(streams[0], nil) > 0 {
		target, haveTarget = streams[0], true
	}

	useGlobal := false
	if haveTarget {
		if bucket, ok := m.buckets[target]; haveGlobal && ok && len(bucket) > 0 {
			if globalBucket[0].id() < bucket[0].id() {
				useGlobal = true
			}
		} else if haveGlobal {
			useGlobal = true
		}
	} else if haveGlobal {
		useGlobal = true
	}

	key := target
	if useGlobal || !haveTarget {
		key = GlobalStreamID
	}

	bucket, ok := m.buckets[key]
	if !ok || len(bucket) == 0 {
		return nil
	}

	ev := bucket[0]
	m.buckets[key] = bucket[1:]
	m.count--

	if key != GlobalStreamID && len(m.buckets[key]) == 0 {
		delete(m.buckets, key)
		m.streamsSet = false
	}

	return ev
}

// Count reports the number of pending events for streamID (use
// [Matrix.Len] for the total across all streams). exclude, if non-nil,
// is called for each event and excludes it from the count when it
// returns true.
func (m *Matrix) Count(streamID int64, exclude func(Event) bool) int {
	bucket, ok := m.buckets[streamID]
	if !ok {
		return 0
	}
	if exclude == nil {
		return len(bucket)
	}
	n := 0
	for _, e := range bucket {
		if !exclude(e) {
			n++
		}
	}
	return n
}
