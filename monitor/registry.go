package monitor

import (
	"slices"
	"sync"
	"time"

	"github.com/tetherball88/Know-Your-Limits/host"
)

// DefaultCheckLogInterval throttles per-monitor penetration check logs
const DefaultCheckLogInterval = time.Second

// OrphanBone is a deformed bone whose monitor was re-registered with a different chain
// It is restored on the next tick
type OrphanBone struct {
	Probe host.ActorHandle
	Bone  string
}

// Registry is the set of active monitors, one mutex guards everything
type Registry struct {
	mu       sync.Mutex
	monitors []*Monitor
	orphans  []OrphanBone

	now      func() time.Time
	logEvery time.Duration
}

// NewRegistry creates an empty registry; now drives lifetime expiry
func NewRegistry(now func() time.Time, logEvery time.Duration) *Registry {
	if now == nil {
		now = time.Now
	}
	if logEvery <= 0 {
		logEvery = DefaultCheckLogInterval
	}
	return &Registry{now: now, logEvery: logEvery}
}

// Upsert inserts a monitor or updates the one with the same identity in place
// An update resets runtime counters and caches but keeps the ID and owed restores
func (r *Registry) Upsert(spec Spec) (Info, bool, error) {
	if err := spec.Validate(); err != nil {
		return Info{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, m := range r.monitors {
		if m.Identity != spec.Identity {
			continue
		}
		r.collectOrphans(m, spec.ProbeBones)
		m.reset(spec, now)
		return m.info(), false, nil
	}

	m := newMonitor(spec, now, r.logEvery)
	r.monitors = append(r.monitors, m)
	return m.info(), true, nil
}

func (r *Registry) collectOrphans(m *Monitor, next []string) {
	for i, deformed := range m.Deformed {
		if !deformed {
			continue
		}
		if i < len(next) && next[i] == m.ProbeBones[i] {
			continue
		}
		r.orphans = append(r.orphans, OrphanBone{Probe: m.Probe, Bone: m.ProbeBones[i]})
		m.Deformed[i] = false
	}
}

// RemoveByIdentities drops every monitor whose probe or target is in ids
// restore runs for each removed monitor before it is dropped, under the registry lock
func (r *Registry) RemoveByIdentities(ids []host.ActorHandle, restore func(*Monitor)) int {
	if len(ids) == 0 {
		return 0
	}
	set := make(map[host.ActorHandle]struct{}, len(ids))
	for _, h := range ids {
		set[h] = struct{}{}
	}
	match := func(m *Monitor) bool {
		_, p := set[m.Probe]
		_, t := set[m.Target]
		return p || t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(match, restore)
}

// RemoveAll drops every monitor, restoring each first
func (r *Registry) RemoveAll(restore func(*Monitor)) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(func(*Monitor) bool { return true }, restore)
}

func (r *Registry) removeLocked(match func(*Monitor) bool, restore func(*Monitor)) int {
	before := len(r.monitors)
	r.monitors = slices.DeleteFunc(r.monitors, func(m *Monitor) bool {
		if !match(m) {
			return false
		}
		if restore != nil {
			restore(m)
		}
		return true
	})
	return before - len(r.monitors)
}

// Tick runs fn for every monitor under the lock and prunes those fn reports for removal
// orphans receives owed restores collected since the last tick. Returns live monitors
func (r *Registry) Tick(orphans func([]OrphanBone), fn func(m *Monitor) (remove bool)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.orphans) > 0 && orphans != nil {
		pending := r.orphans
		r.orphans = nil
		orphans(pending)
	}

	r.monitors = slices.DeleteFunc(r.monitors, fn)
	return len(r.monitors)
}

// Each runs fn for every monitor under the lock
func (r *Registry) Each(fn func(m *Monitor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.monitors {
		fn(m)
	}
}

// Orphans returns and clears owed restores without running a tick
// With probes given only their bones are taken; the rest stay queued
func (r *Registry) Orphans(probes ...host.ActorHandle) []OrphanBone {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(probes) == 0 {
		out := r.orphans
		r.orphans = nil
		return out
	}

	var out []OrphanBone
	r.orphans = slices.DeleteFunc(r.orphans, func(o OrphanBone) bool {
		if !slices.Contains(probes, o.Probe) {
			return false
		}
		out = append(out, o)
		return true
	})
	return out
}

// Snapshot copies every monitor's state
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, len(r.monitors))
	for i, m := range r.monitors {
		out[i] = m.info()
	}
	return out
}

// Len returns the number of active monitors
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}
