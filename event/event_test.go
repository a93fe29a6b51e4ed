package event

import (
	"sync"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Type: BoneDeformed, Bone: "a"})
	q.Push(Event{Type: BoneRestored, Bone: "b"})

	got := q.Consume()
	if len(got) != 2 {
		t.Fatalf("Consume returned %d events, want 2", len(got))
	}
	if got[0].Bone != "a" || got[1].Bone != "b" {
		t.Errorf("order = %q,%q want a,b", got[0].Bone, got[1].Bone)
	}
	if q.Consume() != nil {
		t.Error("second Consume should be empty")
	}
}

func TestQueueOverflowKeepsNewest(t *testing.T) {
	q := NewQueue()
	for i := 0; i < QueueSize+10; i++ {
		q.Push(Event{Type: PenetrationSampled, Depth: float64(i)})
	}

	got := q.Consume()
	if len(got) != QueueSize {
		t.Fatalf("Consume returned %d events, want %d", len(got), QueueSize)
	}
	if got[len(got)-1].Depth != float64(QueueSize+9) {
		t.Errorf("last depth = %v, want %v", got[len(got)-1].Depth, QueueSize+9)
	}
	if q.Dropped() == 0 {
		t.Error("expected dropped count after overflow")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(Event{Type: BoneDeformed})
			}
		}()
	}
	wg.Wait()

	if n := len(q.Consume()); n != 400 {
		t.Errorf("consumed %d, want 400", n)
	}
}

func TestQueueWaitsForIncompleteWriter(t *testing.T) {
	q := NewQueue()
	// Reserve a position without writing it, as a producer preempted mid-Push would
	pos := q.tail.Add(1) - 1
	q.Push(Event{Type: BoneRestored, Bone: "b"})

	if got := q.Consume(); len(got) != 0 {
		t.Fatalf("Consume returned %d events past an unwritten slot", len(got))
	}

	q.write(pos, Event{Type: BoneDeformed, Bone: "a"})
	got := q.Consume()
	if len(got) != 2 || got[0].Bone != "a" || got[1].Bone != "b" {
		t.Fatalf("Consume = %+v, want a then b", got)
	}
}

func TestQueueKeepsFlowingAfterWrapping(t *testing.T) {
	q := NewQueue()
	const total = QueueSize * 8

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			q.Push(Event{Type: PenetrationSampled, Depth: float64(i)})
		}
	}()

	last := -1.0
	consumed := 0
	check := func(evs []Event) {
		for _, ev := range evs {
			if ev.Depth <= last {
				t.Fatalf("depth %v after %v, events out of order", ev.Depth, last)
			}
			last = ev.Depth
			consumed++
		}
	}
	for {
		select {
		case <-done:
			check(q.Consume())
			if last != total-1 {
				t.Fatalf("last consumed depth = %v, want %d", last, total-1)
			}
			if uint64(consumed)+q.Dropped() < total {
				t.Errorf("consumed %d + dropped %d < %d, events lost uncounted", consumed, q.Dropped(), total)
			}
			if q.Consume() != nil {
				t.Error("queue should be drained")
			}
			return
		default:
			check(q.Consume())
		}
	}
}

func TestRouterDispatch(t *testing.T) {
	q := NewQueue()
	r := NewRouter(q)

	var deformed, any int
	r.On(func(Event) { deformed++ }, BoneDeformed)
	r.On(func(Event) { any++ }, BoneDeformed, BoneRestored)

	q.Push(Event{Type: BoneDeformed})
	q.Push(Event{Type: BoneRestored})
	q.Push(Event{Type: TickStopped})

	if n := r.DispatchAll(); n != 3 {
		t.Errorf("DispatchAll = %d, want 3", n)
	}
	if deformed != 1 || any != 2 {
		t.Errorf("deformed=%d any=%d, want 1 and 2", deformed, any)
	}
	if r.HandlerCount(BoneDeformed) != 2 {
		t.Errorf("HandlerCount = %d, want 2", r.HandlerCount(BoneDeformed))
	}
}
