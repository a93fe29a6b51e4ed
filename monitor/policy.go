package monitor

import (
	"fmt"
	"math"
	"strings"
)

// DefaultMaxBoneOffset caps the per-bone translation offset
const DefaultMaxBoneOffset = 1.3

// Frame is one tick's measurement of a monitor's probe chain
type Frame struct {
	// TipDepth is the tip's depth beyond the target along the probe direction
	TipDepth float64
	// Depths and Resolved are indexed by chain position; Depths is only meaningful where Resolved
	Depths   []float64
	Resolved []bool
	// Middle lists resolved chain indices 1..n-2 in order
	Middle []int
}

// BoneAction deforms the chain bone at Index by Amount
type BoneAction struct {
	Index  int
	Amount float64
}

// Decision is what a policy wants done to the chain this tick
type Decision struct {
	Apply        []BoneAction
	Restore      []int
	NewHighWater bool
}

// Policy turns a frame into a deform/restore decision
// Decide may update the monitor's penetration maxima but never its Deformed flags
type Policy interface {
	Name() string
	Decide(m *Monitor, f Frame) Decision
}

// ParsePolicy accepts "tip" / "tip-depth" and "cascade"
func ParsePolicy(name string, maxOffset float64) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tip", "tip-depth", "tipdepth":
		return NewTipDepth(maxOffset), nil
	case "cascade":
		return NewCascade(maxOffset), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

// TipDepth measures the tip only and spreads the learned high-water mark over the middle bones
// Between the restore and activate thresholds nothing changes
type TipDepth struct {
	MaxOffset float64
}

func NewTipDepth(maxOffset float64) *TipDepth {
	if maxOffset <= 0 {
		maxOffset = DefaultMaxBoneOffset
	}
	return &TipDepth{MaxOffset: maxOffset}
}

func (p *TipDepth) Name() string { return "tip-depth" }

func (p *TipDepth) Decide(m *Monitor, f Frame) Decision {
	var d Decision
	depth := f.TipDepth

	switch {
	case depth > m.ActivateThreshold:
		d.NewHighWater = raiseHighWater(m, depth, depth-m.ActivateThreshold)
		if len(f.Middle) == 0 {
			return d
		}
		offset := distribute(m.MaxPenetrationBeyondThreshold, len(f.Middle), p.MaxOffset)
		for _, idx := range f.Middle {
			// Bones already at the current maximum are left alone
			if !d.NewHighWater && m.Deformed[idx] {
				continue
			}
			d.Apply = append(d.Apply, BoneAction{Index: idx, Amount: offset})
		}

	case depth <= m.RestoreThreshold:
		// The high-water mark survives restore; only re-registration clears it
		for _, idx := range f.Middle {
			if m.Deformed[idx] {
				d.Restore = append(d.Restore, idx)
			}
		}
	}
	return d
}

// Cascade measures every bone and deforms from the first penetrating one toward the tip
// It never restores on depth; removal or a reload does that
type Cascade struct {
	MaxOffset float64
}

func NewCascade(maxOffset float64) *Cascade {
	if maxOffset <= 0 {
		maxOffset = DefaultMaxBoneOffset
	}
	return &Cascade{MaxOffset: maxOffset}
}

func (p *Cascade) Name() string { return "cascade" }

func (p *Cascade) Decide(m *Monitor, f Frame) Decision {
	var d Decision

	first := -1
	peak := math.Inf(-1)
	for i, ok := range f.Resolved {
		if !ok {
			continue
		}
		if f.Depths[i] > m.ActivateThreshold && first < 0 {
			first = i
		}
		peak = math.Max(peak, f.Depths[i])
	}
	if first < 0 {
		return d
	}

	d.NewHighWater = raiseHighWater(m, peak, peak-m.ActivateThreshold)

	var targets []int
	for _, idx := range f.Middle {
		if idx >= first {
			targets = append(targets, idx)
		}
	}
	if len(targets) == 0 {
		return d
	}

	offset := distribute(m.MaxPenetrationBeyondThreshold, len(targets), p.MaxOffset)
	for _, idx := range targets {
		if !d.NewHighWater && m.Deformed[idx] {
			continue
		}
		d.Apply = append(d.Apply, BoneAction{Index: idx, Amount: offset})
	}
	return d
}

// raiseHighWater records depth and beyond as maxima, reporting whether beyond set a new mark
func raiseHighWater(m *Monitor, depth, beyond float64) bool {
	if depth > m.MaxPenetration {
		m.MaxPenetration = depth
	}
	if beyond > m.MaxPenetrationBeyondThreshold {
		m.MaxPenetrationBeyondThreshold = beyond
		return true
	}
	return false
}

func distribute(total float64, bones int, limit float64) float64 {
	return math.Min(total/float64(bones), limit)
}
