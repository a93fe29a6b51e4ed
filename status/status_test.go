package status

import (
	"sync"
	"testing"
)

func TestMetricMapGetReturnsCachedPointer(t *testing.T) {
	m := NewMetricMap[AtomicFloat]()
	a := m.Get("x")
	b := m.Get("x")
	if a != b {
		t.Fatal("Get returned different pointers for the same key")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
}

func TestAtomicFloatMaxConcurrent(t *testing.T) {
	var f AtomicFloat
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			f.Max(v)
		}(float64(i))
	}
	wg.Wait()

	if got := f.Get(); got != 99 {
		t.Errorf("Max = %v, want 99", got)
	}
}

func TestAtomicStringTruncates(t *testing.T) {
	var s AtomicString
	s.Store("0123456789012345678901234567890")
	if len(s.Load()) != MaxStringLen {
		t.Errorf("len = %d, want %d", len(s.Load()), MaxStringLen)
	}
}

func TestRegistryLinesSorted(t *testing.T) {
	r := NewRegistry()
	r.Ints.Get("b").Store(2)
	r.Ints.Get("a").Store(1)
	r.Strings.Get("s").Store("Idle")

	lines := r.Lines()
	want := []string{"a=1", "b=2", "s=Idle"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}
