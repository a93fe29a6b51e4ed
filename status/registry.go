// Package status is a lock-free metrics facade for engine counters and gauges
package status

import (
	"fmt"
	"sync/atomic"
)

// Metric keys written by the engine
const (
	KeyTicks           = "engine.ticks"
	KeyManual          = "engine.manual"
	KeyLastTickUnixMs  = "engine.last_tick_unix_ms"
	KeyTickDurationUs  = "engine.tick_duration_us"
	KeyMonitorsActive  = "monitors.active"
	KeyMonitorsWait    = "monitors.waiting"
	KeyBonesDeformed   = "bones.deformed"
	KeyScalePending    = "bones.scale_pending"
	KeyMaxPenetration  = "penetration.max"
	KeyPeakPenetration = "penetration.peak"
	KeySchedulerState  = "scheduler.state"
	KeyTickInterval    = "scheduler.interval_ms"
	KeySubmitFailures  = "scheduler.submit_failures"
)

// Registry is the central metrics facade
// Components cache pointers during construction; tick loops write directly to atomics
type Registry struct {
	Bools   *MetricMap[atomic.Bool]
	Ints    *MetricMap[atomic.Int64]
	Floats  *MetricMap[AtomicFloat]
	Strings *MetricMap[AtomicString]
}

// NewRegistry creates an initialized Registry
func NewRegistry() *Registry {
	return &Registry{
		Bools:   NewMetricMap[atomic.Bool](),
		Ints:    NewMetricMap[atomic.Int64](),
		Floats:  NewMetricMap[AtomicFloat](),
		Strings: NewMetricMap[AtomicString](),
	}
}

// TotalCount returns total metrics across all types
func (r *Registry) TotalCount() int {
	return r.Bools.Count() + r.Ints.Count() + r.Floats.Count() + r.Strings.Count()
}

// Lines renders every metric as "key=value", sorted within each type
func (r *Registry) Lines() []string {
	lines := make([]string, 0, r.TotalCount())
	r.Ints.Range(func(k string, v *atomic.Int64) {
		lines = append(lines, fmt.Sprintf("%s=%d", k, v.Load()))
	})
	r.Floats.Range(func(k string, v *AtomicFloat) {
		lines = append(lines, fmt.Sprintf("%s=%.3f", k, v.Get()))
	})
	r.Bools.Range(func(k string, v *atomic.Bool) {
		lines = append(lines, fmt.Sprintf("%s=%t", k, v.Load()))
	})
	r.Strings.Range(func(k string, v *AtomicString) {
		lines = append(lines, fmt.Sprintf("%s=%s", k, v.Load()))
	})
	return lines
}
