package deform

import (
	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/vmath"
)

const (
	DefaultReducedScale   = 0.01
	DefaultScaleTolerance = 0.001
)

// Scale shrinks a bone to Reduced, remembering the pre-deformation scale in Table
type Scale struct {
	Reduced   float64
	Tolerance float64
	Table     *ScaleTable

	log *zap.Logger
}

func NewScale(reduced, tolerance float64, table *ScaleTable, log *zap.Logger) *Scale {
	if reduced <= 0 {
		reduced = DefaultReducedScale
	}
	if tolerance <= 0 {
		tolerance = DefaultScaleTolerance
	}
	if table == nil {
		table = NewScaleTable()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scale{Reduced: reduced, Tolerance: tolerance, Table: table, log: log}
}

func (s *Scale) Kind() Kind { return KindScale }

func (s *Scale) Apply(actor host.Actor, node host.Node, _ float64) Result {
	if actor == nil || node == nil || !node.Valid() {
		return Rejected
	}

	current := node.LocalScale()
	if !vmath.IsFinite(current) {
		s.log.Warn("non-finite bone scale, skipping",
			zap.String("actor", host.ActorLabel(actor)),
			zap.String("node", node.Name()))
		return Rejected
	}

	// First capture wins so a re-apply never records the reduced value as original
	s.Table.Capture(actor.Handle(), node.Name(), current)

	if vmath.Within(current, s.Reduced, s.Tolerance) {
		return Skipped
	}

	node.SetLocalScale(s.Reduced)
	s.log.Debug("scaled bone",
		zap.String("actor", host.ActorLabel(actor)),
		zap.String("node", node.Name()),
		zap.Float64("from", current),
		zap.Float64("to", s.Reduced))
	return Written
}

func (s *Scale) Restore(actor host.Actor, node host.Node) Result {
	if actor == nil || node == nil {
		return Skipped
	}
	return s.Table.restoreOne(actor, node, s.Tolerance, s.log)
}

// Defer marks an owed restore that cannot be attempted now, typically because the actor is gone
// RetryPending picks it up once the actor resolves again
func (s *Scale) Defer(h host.ActorHandle, bone string) bool {
	if _, ok := s.Table.Lookup(h, bone); !ok {
		return false
	}
	s.Table.markPending(h, bone)
	return true
}
