package monitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/deform"
	"github.com/tetherball88/Know-Your-Limits/event"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/vmath"
)

// Removal reasons carried by MonitorRemoved events
const (
	ReasonMissingActor = "missing actor"
	ReasonExpired      = "expired"
	ReasonStopped      = "stopped"
	ReasonShutdown     = "shutdown"
)

// Evaluator runs the per-monitor measurement and applies the policy's decision
// Every method must run on the serialized processing context with the registry lock held
type Evaluator struct {
	scene   host.Scene
	channel deform.Channel
	policy  Policy
	epsilon float64

	now    func() time.Time
	events *event.Queue
	log    *zap.Logger
}

// EvaluatorOptions are the optional collaborators of an Evaluator
type EvaluatorOptions struct {
	DirectionEpsilon float64
	Now              func() time.Time
	Events           *event.Queue
	Logger           *zap.Logger
}

func NewEvaluator(scene host.Scene, channel deform.Channel, policy Policy, opts EvaluatorOptions) *Evaluator {
	e := &Evaluator{
		scene:   scene,
		channel: channel,
		policy:  policy,
		epsilon: opts.DirectionEpsilon,
		now:     opts.Now,
		events:  opts.Events,
		log:     opts.Logger,
	}
	if e.epsilon <= 0 {
		e.epsilon = vmath.DefaultDirectionEpsilon
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.policy == nil {
		e.policy = NewTipDepth(DefaultMaxBoneOffset)
	}
	return e
}

// Channel returns the deformation channel in use
func (e *Evaluator) Channel() deform.Channel { return e.channel }

// Policy returns the decision policy in use
func (e *Evaluator) Policy() Policy { return e.policy }

// Evaluate measures m once and applies the decision
// Returns true when the monitor must be removed; owed restores have been attempted by then
func (e *Evaluator) Evaluate(m *Monitor) (remove bool) {
	m.Deformed = resizeFlags(m.Deformed, len(m.ProbeBones))
	if len(m.cache.chain) != len(m.ProbeBones) {
		m.cache.reset(len(m.ProbeBones))
	}

	probe, probeOK := e.scene.LookupActor(m.Probe)
	target, targetOK := e.scene.LookupActor(m.Target)
	if !probeOK || !targetOK {
		e.log.Info("removing monitor (missing actor)",
			e.fields(m, zap.Bool("probe", probeOK), zap.Bool("target", targetOK))...)
		if probeOK {
			e.Restore(m, probe)
		} else {
			e.abandon(m)
		}
		e.NotifyRemoved(m, ReasonMissingActor)
		return true
	}

	if m.Expired(e.now()) {
		e.log.Info("removing monitor (lifetime expired)", e.fields(m, zap.Duration("lifetime", m.Lifetime))...)
		e.Restore(m, probe)
		e.NotifyRemoved(m, ReasonExpired)
		return true
	}

	f, targetNode, ok := e.resolve(m, probe, target)
	if !ok {
		return false
	}

	chain := m.cache.chain
	base, tip := chain[0], chain[len(chain)-1]
	dir, length, ok := vmath.Direction(base.World(), tip.World(), e.epsilon)
	if !ok {
		e.log.Debug("probe bones too close together", e.fields(m, zap.Float64("length", length))...)
		return false
	}

	targetPos := targetNode.World()
	for i, node := range chain {
		if f.Resolved[i] {
			f.Depths[i] = vmath.Depth(node.World(), targetPos, dir)
		}
	}
	f.TipDepth = f.Depths[len(chain)-1]
	m.LastDepth = f.TipDepth

	m.checkLog.Do(func() {
		e.log.Debug("penetration check", e.fields(m,
			zap.Float64("tipPenetration", f.TipDepth),
			zap.Float64("activateThreshold", m.ActivateThreshold),
			zap.Float64("restoreThreshold", m.RestoreThreshold))...)
	})

	d := e.policy.Decide(m, f)
	if d.NewHighWater {
		e.log.Debug("new max penetration beyond threshold",
			e.fields(m, zap.Float64("max", m.MaxPenetrationBeyondThreshold))...)
	}
	e.apply(m, probe, d, f.TipDepth)
	e.emit(m, event.Event{Type: event.PenetrationSampled, Depth: f.TipDepth})
	return false
}

// resolve revalidates cached nodes and fills the frame's resolution flags
// ok is false while the monitor waits for bones
func (e *Evaluator) resolve(m *Monitor, probe, target host.Actor) (Frame, host.Node, bool) {
	n := len(m.ProbeBones)
	f := Frame{
		Depths:   make([]float64, n),
		Resolved: make([]bool, n),
	}

	targetNode := revalidate(&m.cache.target, target, m.TargetBone)
	for i, name := range m.ProbeBones {
		node := revalidate(&m.cache.chain[i], probe, name)
		f.Resolved[i] = node != nil
		if node != nil && i > 0 && i < n-1 {
			f.Middle = append(f.Middle, i)
		}
	}

	baseOK, tipOK := f.Resolved[0], f.Resolved[n-1]
	if targetNode == nil || !baseOK || !tipOK || len(f.Middle) == 0 {
		if !m.WaitingForBones {
			m.WaitingForBones = true
			e.log.Info("waiting for bones", e.fields(m,
				zap.String("target", okLabel(targetNode != nil)),
				zap.String("base", okLabel(baseOK)),
				zap.String("tip", okLabel(tipOK)),
				zap.Int("middle", len(f.Middle)))...)
			e.emit(m, event.Event{Type: event.BonesWaiting})
		}
		return f, nil, false
	}

	if m.WaitingForBones {
		m.WaitingForBones = false
		e.log.Info("bones recovered", e.fields(m)...)
		e.emit(m, event.Event{Type: event.BonesRecovered})
	}
	return f, targetNode, true
}

// revalidate returns the cached node if still valid, else looks it up again and caches the result
func revalidate(slot *host.Node, actor host.Actor, name string) host.Node {
	if n := *slot; n != nil && n.Valid() {
		return n
	}
	*slot = nil
	n, ok := actor.Node(name)
	if !ok || n == nil || !n.Valid() {
		return nil
	}
	*slot = n
	return n
}

func (e *Evaluator) apply(m *Monitor, probe host.Actor, d Decision, depth float64) {
	chain := m.cache.chain
	for _, a := range d.Apply {
		wasDeformed := m.Deformed[a.Index]
		if e.channel.Apply(probe, chain[a.Index], a.Amount) == deform.Rejected {
			continue
		}
		m.Deformed[a.Index] = true
		if wasDeformed {
			continue
		}
		e.log.Info("deformed bone", e.fields(m,
			zap.String("node", host.NodeLabel(m.ProbeBones[a.Index])),
			zap.String("channel", e.channel.Kind().String()),
			zap.Float64("amount", a.Amount),
			zap.Float64("tipPenetration", depth),
			zap.Float64("maxPenetration", m.MaxPenetration))...)
		e.emit(m, event.Event{Type: event.BoneDeformed, Bone: m.ProbeBones[a.Index], Depth: depth, Amount: a.Amount})
	}

	for _, idx := range d.Restore {
		e.channel.Restore(probe, chain[idx])
		m.Deformed[idx] = false
		e.log.Info("restored bone", e.fields(m,
			zap.String("node", host.NodeLabel(m.ProbeBones[idx])),
			zap.Float64("tipPenetration", depth))...)
		e.emit(m, event.Event{Type: event.BoneRestored, Bone: m.ProbeBones[idx], Depth: depth})
	}
}

// Restore reverses every deformed bone of m on probe and clears the flags
// Bones that no longer resolve are handed to the channel as deferred when it supports that
func (e *Evaluator) Restore(m *Monitor, probe host.Actor) int {
	if probe == nil {
		return e.abandon(m)
	}
	m.Deformed = resizeFlags(m.Deformed, len(m.ProbeBones))
	if len(m.cache.chain) != len(m.ProbeBones) {
		m.cache.reset(len(m.ProbeBones))
	}

	restored := 0
	for i, deformed := range m.Deformed {
		if !deformed {
			continue
		}
		m.Deformed[i] = false
		name := m.ProbeBones[i]
		node := revalidate(&m.cache.chain[i], probe, name)
		if node == nil {
			e.deferBone(m.Probe, name)
			continue
		}
		if e.channel.Restore(probe, node) != deform.Deferred {
			restored++
		}
		e.emit(m, event.Event{Type: event.BoneRestored, Bone: name})
	}
	if restored > 0 {
		e.log.Info("restored monitor bones", e.fields(m, zap.Int("count", restored))...)
	}
	return restored
}

// RestoreHandle looks up the probe and restores m, deferring when the probe is gone
func (e *Evaluator) RestoreHandle(m *Monitor) int {
	probe, ok := e.scene.LookupActor(m.Probe)
	if !ok {
		return e.abandon(m)
	}
	return e.Restore(m, probe)
}

// RestoreOrphans restores bones left deformed by a re-registration that changed the chain
func (e *Evaluator) RestoreOrphans(orphans []OrphanBone) int {
	restored := 0
	for _, o := range orphans {
		actor, ok := e.scene.LookupActor(o.Probe)
		if !ok {
			e.deferBone(o.Probe, o.Bone)
			continue
		}
		node, ok := actor.Node(o.Bone)
		if !ok || !node.Valid() {
			e.deferBone(o.Probe, o.Bone)
			continue
		}
		if e.channel.Restore(actor, node) != deform.Deferred {
			restored++
		}
	}
	return restored
}

// AbandonOrphans parks owed restores that cannot reach the scene
func (e *Evaluator) AbandonOrphans(orphans []OrphanBone) {
	for _, o := range orphans {
		e.deferBone(o.Probe, o.Bone)
	}
}

// abandon clears flags for a probe that cannot be touched
func (e *Evaluator) abandon(m *Monitor) int {
	for i, deformed := range m.Deformed {
		if deformed {
			e.deferBone(m.Probe, m.ProbeBones[i])
			m.Deformed[i] = false
		}
	}
	return 0
}

func (e *Evaluator) deferBone(h host.ActorHandle, bone string) {
	if d, ok := e.channel.(deform.Deferrer); ok {
		d.Defer(h, bone)
	}
}

// NotifyRemoved publishes a MonitorRemoved event for m
func (e *Evaluator) NotifyRemoved(m *Monitor, reason string) {
	e.emit(m, event.Event{Type: event.MonitorRemoved, Reason: reason})
}

func (e *Evaluator) emit(m *Monitor, ev event.Event) {
	if e.events == nil {
		return
	}
	ev.At = e.now()
	ev.MonitorID = m.ID
	ev.Probe = m.Probe
	ev.Target = m.Target
	ev.HighWater = m.MaxPenetrationBeyondThreshold
	e.events.Push(ev)
}

func (e *Evaluator) fields(m *Monitor, extra ...zap.Field) []zap.Field {
	out := make([]zap.Field, 0, 3+len(extra))
	out = append(out,
		zap.Stringer("monitor", m.ID),
		zap.Stringer("probeHandle", m.Probe),
		zap.Stringer("targetHandle", m.Target))
	return append(out, extra...)
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}
