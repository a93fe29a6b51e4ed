package deform

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/vmath"
)

// DefaultPositionTolerance skips writes closer than this to the target position
const DefaultPositionTolerance = 0.1

// Translation moves a bone's local position back along Axis by the offset
// Rest is the canonical zero-offset local position, restore always returns there
type Translation struct {
	Axis      r3.Vec
	Rest      r3.Vec
	Tolerance float64

	log *zap.Logger
}

// NewTranslation returns a Y-axis channel with rest at the origin
func NewTranslation(tolerance float64, log *zap.Logger) *Translation {
	if tolerance <= 0 {
		tolerance = DefaultPositionTolerance
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Translation{
		Axis:      vmath.AxisY,
		Rest:      vmath.Zero,
		Tolerance: tolerance,
		log:       log,
	}
}

func (t *Translation) Kind() Kind { return KindTranslation }

func (t *Translation) Apply(actor host.Actor, node host.Node, amount float64) Result {
	if node == nil || !node.Valid() || !vmath.IsFinite(amount) {
		return Rejected
	}

	target := vmath.Offset(t.Rest, t.Axis, amount)
	current := node.LocalTranslate()
	if vmath.WithinVec(current, target, t.Tolerance) {
		return Skipped
	}

	node.SetLocalTranslate(target)
	t.log.Debug("moved bone",
		zap.String("actor", host.ActorLabel(actor)),
		zap.String("node", node.Name()),
		zap.Float64("offset", -amount),
		zap.Float64("newY", target.Y))
	return Written
}

func (t *Translation) Restore(actor host.Actor, node host.Node) Result {
	if node == nil || !node.Valid() {
		return Skipped
	}
	if node.LocalTranslate() == t.Rest {
		return Skipped
	}

	node.SetLocalTranslate(t.Rest)
	t.log.Debug("restored bone",
		zap.String("actor", host.ActorLabel(actor)),
		zap.String("node", node.Name()))
	return Written
}
