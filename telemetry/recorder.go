// Package telemetry records per-monitor penetration samples from the event stream
// and renders them as time series plots
package telemetry

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tetherball88/Know-Your-Limits/event"
)

// Sample is one evaluated tick of one monitor
type Sample struct {
	At        time.Time
	Depth     float64
	HighWater float64
}

// Series is the recorded history of a single monitor
type Series struct {
	MonitorID uuid.UUID
	Label     string
	Samples   []Sample

	Deformations int
	Restorations int
	Removed      bool
	RemoveReason string
}

// Peak returns the largest recorded depth, zero for an empty series
func (s *Series) Peak() float64 {
	peak := 0.0
	for i, smp := range s.Samples {
		if i == 0 || smp.Depth > peak {
			peak = smp.Depth
		}
	}
	return peak
}

// Recorder accumulates series keyed by monitor
// Handlers run on the router goroutine; readers may call from anywhere
type Recorder struct {
	mu         sync.Mutex
	series     map[uuid.UUID]*Series
	order      []uuid.UUID
	maxSamples int
	start      time.Time
}

// NewRecorder keeps at most maxSamples per monitor, unbounded when zero
func NewRecorder(maxSamples int) *Recorder {
	return &Recorder{
		series:     make(map[uuid.UUID]*Series),
		maxSamples: maxSamples,
	}
}

// Attach subscribes the recorder to the event types it consumes
func (r *Recorder) Attach(router *event.Router) {
	router.On(r.HandleEvent,
		event.MonitorCreated,
		event.PenetrationSampled,
		event.BoneDeformed,
		event.BoneRestored,
		event.MonitorRemoved,
	)
}

func (r *Recorder) HandleEvent(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.seriesLocked(ev)
	switch ev.Type {
	case event.PenetrationSampled:
		if r.start.IsZero() {
			r.start = ev.At
		}
		s.Samples = append(s.Samples, Sample{At: ev.At, Depth: ev.Depth, HighWater: ev.HighWater})
		if r.maxSamples > 0 && len(s.Samples) > r.maxSamples {
			s.Samples = slices.Delete(s.Samples, 0, len(s.Samples)-r.maxSamples)
		}
	case event.BoneDeformed:
		s.Deformations++
	case event.BoneRestored:
		s.Restorations++
	case event.MonitorRemoved:
		s.Removed = true
		s.RemoveReason = ev.Reason
	}
}

func (r *Recorder) seriesLocked(ev event.Event) *Series {
	s, ok := r.series[ev.MonitorID]
	if !ok {
		s = &Series{
			MonitorID: ev.MonitorID,
			Label:     ev.Probe.String() + "->" + ev.Target.String(),
		}
		r.series[ev.MonitorID] = s
		r.order = append(r.order, ev.MonitorID)
	}
	return s
}

// Series returns copies of every recorded series in first-seen order
func (r *Recorder) Series() []Series {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Series, 0, len(r.order))
	for _, id := range r.order {
		s := *r.series[id]
		s.Samples = slices.Clone(s.Samples)
		out = append(out, s)
	}
	return out
}

// Start returns the timestamp of the first sample
func (r *Recorder) Start() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.series)
	r.order = r.order[:0]
	r.start = time.Time{}
}
