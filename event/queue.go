package event

import (
	"sync/atomic"
)

const (
	// QueueSize must be a power of two
	QueueSize  = 1024
	bufferMask = QueueSize - 1
)

// Queue is a lock-free MPSC ring buffer
//   - Push: lock-free, multiple producers OK
//   - Consume: single consumer
//   - Each slot carries the sequence it holds, so partial writes and lapped slots are detected
//
// Overflow: oldest events are overwritten when full
type Queue struct {
	slots   [QueueSize]slot
	head    atomic.Uint64
	tail    atomic.Uint64
	dropped atomic.Uint64
}

// slot.seq is position+1 once the event for position is fully written, 0 while a write is in flight
type slot struct {
	seq atomic.Uint64
	ev  atomic.Pointer[Event]
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push adds an event. Safe for concurrent producers
func (q *Queue) Push(ev Event) {
	pos := q.tail.Add(1) - 1
	q.write(pos, ev)

	// Advance head past whatever this write overwrote
	for {
		head := q.head.Load()
		if pos+1-head <= QueueSize {
			return
		}
		if q.head.CompareAndSwap(head, pos+1-QueueSize) {
			q.dropped.Add(pos + 1 - QueueSize - head)
			return
		}
	}
}

func (q *Queue) write(pos uint64, ev Event) {
	s := &q.slots[pos&bufferMask]
	s.seq.Store(0)
	s.ev.Store(&ev)
	s.seq.Store(pos + 1) // MUST be after write
}

// Consume returns all pending events in FIFO order
// Stops at the first slot whose writer has not finished; later calls pick it up
func (q *Queue) Consume() []Event {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail == head {
		return nil
	}
	if tail-head > QueueSize {
		head = tail - QueueSize
	}

	result := make([]Event, 0, tail-head)
	pos := head
	for ; pos < tail; pos++ {
		s := &q.slots[pos&bufferMask]
		seq := s.seq.Load()
		if seq > pos+1 {
			continue // lapped by a newer write, already counted as dropped
		}
		if seq != pos+1 {
			break // writer incomplete
		}
		ev := s.ev.Load()
		if s.seq.Load() != pos+1 {
			continue // overwritten while reading
		}
		result = append(result, *ev)
	}

	// Producers may have moved head further on overflow; never move it back
	for {
		cur := q.head.Load()
		if cur >= pos || q.head.CompareAndSwap(cur, pos) {
			break
		}
	}
	return result
}

// Dropped returns how many events were overwritten before being consumed
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
