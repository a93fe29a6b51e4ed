// Package monitor tracks probe-chain/target-bone pairs and decides when probe bones
// are deformed or restored
package monitor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tetherball88/Know-Your-Limits/host"
)

// ErrInvalidSpec is returned for structurally unusable specs
var ErrInvalidSpec = errors.New("invalid monitor spec")

// MinProbeBones is base + one middle + tip
const MinProbeBones = 3

// Identity is the dedup key of a monitor
type Identity struct {
	Probe      host.ActorHandle
	Target     host.ActorHandle
	TargetBone string
}

func (id Identity) String() string {
	return fmt.Sprintf("%#x->%#x.%s", uint32(id.Probe), uint32(id.Target), id.TargetBone)
}

// Spec is a registration request
type Spec struct {
	Identity
	ProbeBones        []string
	ActivateThreshold float64
	RestoreThreshold  float64
	// Lifetime zero means the monitor runs until stopped
	Lifetime time.Duration
}

// Validate checks structure only; minimum chain length is enforced at the bridge
func (s Spec) Validate() error {
	if s.Probe == 0 || s.Target == 0 {
		return fmt.Errorf("%w: zero actor handle (probe=%#x target=%#x)", ErrInvalidSpec, uint32(s.Probe), uint32(s.Target))
	}
	if len(s.ProbeBones) == 0 {
		return fmt.Errorf("%w: empty probe bone list", ErrInvalidSpec)
	}
	for i, name := range s.ProbeBones {
		if name == "" {
			return fmt.Errorf("%w: probe bone %d has an empty name", ErrInvalidSpec, i)
		}
	}
	if s.TargetBone == "" {
		return fmt.Errorf("%w: empty target bone", ErrInvalidSpec)
	}
	if s.Lifetime < 0 {
		return fmt.Errorf("%w: negative lifetime", ErrInvalidSpec)
	}
	return nil
}

// Monitor is the unit of tracked state
// All fields are owned by the Registry lock; only the evaluator mutates runtime state
type Monitor struct {
	ID uuid.UUID
	Identity
	ProbeBones        []string
	ActivateThreshold float64
	RestoreThreshold  float64
	Lifetime          time.Duration
	CreatedAt         time.Time
	// ExpiresAt is zero for indefinite monitors
	ExpiresAt time.Time

	Deformed        []bool
	WaitingForBones bool
	// MaxPenetration is telemetry; MaxPenetrationBeyondThreshold drives the offset
	MaxPenetration                float64
	MaxPenetrationBeyondThreshold float64
	LastDepth                     float64

	cache    nodeCache
	checkLog *rate.Sometimes
}

// nodeCache holds weak node references, revalidated before each use
type nodeCache struct {
	target host.Node
	chain  []host.Node
}

func (c *nodeCache) reset(n int) {
	c.target = nil
	c.chain = make([]host.Node, n)
}

func newMonitor(spec Spec, now time.Time, logEvery time.Duration) *Monitor {
	m := &Monitor{
		ID:        uuid.New(),
		Identity:  spec.Identity,
		CreatedAt: now,
		checkLog:  &rate.Sometimes{Interval: logEvery},
	}
	m.reset(spec, now)
	return m
}

// reset applies spec and clears runtime state; the ID survives
func (m *Monitor) reset(spec Spec, now time.Time) {
	m.ProbeBones = append([]string(nil), spec.ProbeBones...)
	m.ActivateThreshold = spec.ActivateThreshold
	m.RestoreThreshold = spec.RestoreThreshold
	m.Lifetime = spec.Lifetime
	m.ExpiresAt = time.Time{}
	if spec.Lifetime > 0 {
		m.ExpiresAt = now.Add(spec.Lifetime)
	}

	m.Deformed = resizeFlags(m.Deformed, len(m.ProbeBones))
	m.WaitingForBones = false
	m.MaxPenetration = 0
	m.MaxPenetrationBeyondThreshold = 0
	m.LastDepth = 0
	m.cache.reset(len(m.ProbeBones))
}

// resizeFlags keeps existing flags so an update never forgets a deformed bone it must restore
func resizeFlags(flags []bool, n int) []bool {
	if len(flags) == n {
		return flags
	}
	out := make([]bool, n)
	copy(out, flags)
	return out
}

// Expired reports whether the lifetime has elapsed at now
func (m *Monitor) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// DeformedCount returns the number of bones currently flagged deformed
func (m *Monitor) DeformedCount() int {
	n := 0
	for _, d := range m.Deformed {
		if d {
			n++
		}
	}
	return n
}

// ClearDeformed drops every deformed flag without touching the bones
// Used after an out-of-band restore so the policy re-applies on the next penetration
func (m *Monitor) ClearDeformed() {
	clear(m.Deformed)
}

// Involves reports whether h is the probe or the target
func (m *Monitor) Involves(h host.ActorHandle) bool {
	return m.Probe == h || m.Target == h
}

// DropCache forgets every cached node reference
func (m *Monitor) DropCache() {
	m.cache.reset(len(m.ProbeBones))
}

// Info is a copy of a monitor's state safe to hand out of the registry lock
type Info struct {
	ID                            uuid.UUID
	Identity                      Identity
	ProbeBones                    []string
	ActivateThreshold             float64
	RestoreThreshold              float64
	ExpiresAt                     time.Time
	Deformed                      []bool
	WaitingForBones               bool
	MaxPenetration                float64
	MaxPenetrationBeyondThreshold float64
	LastDepth                     float64
}

func (m *Monitor) info() Info {
	return Info{
		ID:                            m.ID,
		Identity:                      m.Identity,
		ProbeBones:                    append([]string(nil), m.ProbeBones...),
		ActivateThreshold:             m.ActivateThreshold,
		RestoreThreshold:              m.RestoreThreshold,
		ExpiresAt:                     m.ExpiresAt,
		Deformed:                      append([]bool(nil), m.Deformed...),
		WaitingForBones:               m.WaitingForBones,
		MaxPenetration:                m.MaxPenetration,
		MaxPenetrationBeyondThreshold: m.MaxPenetrationBeyondThreshold,
		LastDepth:                     m.LastDepth,
	}
}

// JoinBones renders a bone list for log and console lines
func JoinBones(names []string) string {
	labels := make([]string, len(names))
	for i, n := range names {
		labels[i] = host.NodeLabel(n)
	}
	return strings.Join(labels, ", ")
}
