// Package engine owns the monitor registry, drives it from the tick scheduler and
// coordinates restores on session boundaries
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/deform"
	"github.com/tetherball88/Know-Your-Limits/event"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/monitor"
	"github.com/tetherball88/Know-Your-Limits/status"
)

// ErrQueueUnavailable is returned when a synchronous operation cannot reach the serialized context
var ErrQueueUnavailable = errors.New("serialized task queue unavailable")

// ErrNoScaleChannel is returned by scale-only operations on a translation engine
var ErrNoScaleChannel = errors.New("engine is not using the scale channel")

// Options configures an Engine. Scene and Queue are required
type Options struct {
	Scene host.Scene
	Queue host.TaskQueue

	// Channel defaults to translation
	Channel deform.Channel
	// Policy defaults to tip-depth
	Policy monitor.Policy

	DirectionEpsilon float64
	TickIntervalMs   int
	CheckLogInterval time.Duration

	Clock  TimeProvider
	Status *status.Registry
	Logger *zap.Logger

	// Manual leaves the scheduler unarmed; ticks only run through TickNow
	Manual bool
}

// Engine is the single owner of monitor state
type Engine struct {
	scene host.Scene
	queue host.TaskQueue
	clock TimeProvider

	registry *monitor.Registry
	eval     *monitor.Evaluator
	sched    *Scheduler
	// scale is nil unless the scale channel is in use
	scale          *deform.ScaleTable
	scaleTolerance float64
	manual         bool

	events *event.Queue
	status *status.Registry
	log    *zap.Logger

	// Cached metric pointers
	statActive       *atomic.Int64
	statWaiting      *atomic.Int64
	statDeformed     *atomic.Int64
	statScalePending *atomic.Int64
	statMaxPen       *status.AtomicFloat
	statPeakPen      *status.AtomicFloat
}

// New wires an engine; the scheduler worker starts immediately and Close stops it
func New(opts Options) (*Engine, error) {
	if opts.Scene == nil || opts.Queue == nil {
		return nil, fmt.Errorf("engine: scene and task queue are required")
	}
	if opts.Clock == nil {
		opts.Clock = NewMonotonicTimeProvider()
	}
	if opts.Status == nil {
		opts.Status = status.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Channel == nil {
		opts.Channel = deform.NewTranslation(0, opts.Logger.Named("deform"))
	}
	if opts.Policy == nil {
		opts.Policy = monitor.NewTipDepth(monitor.DefaultMaxBoneOffset)
	}
	if opts.TickIntervalMs == 0 {
		opts.TickIntervalMs = DefaultTickIntervalMs
	}

	e := &Engine{
		scene:            opts.Scene,
		queue:            opts.Queue,
		clock:            opts.Clock,
		events:           event.NewQueue(),
		status:           opts.Status,
		log:              opts.Logger,
		manual:           opts.Manual,
		statActive:       opts.Status.Ints.Get(status.KeyMonitorsActive),
		statWaiting:      opts.Status.Ints.Get(status.KeyMonitorsWait),
		statDeformed:     opts.Status.Ints.Get(status.KeyBonesDeformed),
		statScalePending: opts.Status.Ints.Get(status.KeyScalePending),
		statMaxPen:       opts.Status.Floats.Get(status.KeyMaxPenetration),
		statPeakPen:      opts.Status.Floats.Get(status.KeyPeakPenetration),
	}
	opts.Status.Bools.Get(status.KeyManual).Store(opts.Manual)
	if sc, ok := opts.Channel.(*deform.Scale); ok {
		e.scale = sc.Table
		e.scaleTolerance = sc.Tolerance
	}

	e.registry = monitor.NewRegistry(opts.Clock.Now, opts.CheckLogInterval)
	e.eval = monitor.NewEvaluator(opts.Scene, opts.Channel, opts.Policy, monitor.EvaluatorOptions{
		DirectionEpsilon: opts.DirectionEpsilon,
		Now:              opts.Clock.Now,
		Events:           e.events,
		Logger:           opts.Logger.Named("monitor"),
	})
	e.sched = NewScheduler(opts.Queue, e.tick, opts.Status, opts.Clock.Now, opts.Logger.Named("scheduler"))
	e.sched.SetInterval(opts.TickIntervalMs)

	e.log.Info("engine ready",
		zap.String("channel", opts.Channel.Kind().String()),
		zap.String("policy", opts.Policy.Name()),
		zap.Int("tickIntervalMs", e.sched.IntervalMs()))
	return e, nil
}

// Close stops the scheduler. Monitors are left as they are; use HandleSignal to restore
func (e *Engine) Close() {
	e.sched.Close()
}

func (e *Engine) Scheduler() *Scheduler          { return e.sched }
func (e *Engine) Events() *event.Queue           { return e.events }
func (e *Engine) Status() *status.Registry       { return e.status }
func (e *Engine) Channel() deform.Channel        { return e.eval.Channel() }
func (e *Engine) Policy() monitor.Policy         { return e.eval.Policy() }
func (e *Engine) Snapshot() []monitor.Info       { return e.registry.Snapshot() }
func (e *Engine) MonitorCount() int              { return e.registry.Len() }
func (e *Engine) ScaleTable() *deform.ScaleTable { return e.scale }

// SetTickIntervalMs clamps and applies the sleep interval, returning the stored value
func (e *Engine) SetTickIntervalMs(ms int) int {
	got := e.sched.SetInterval(ms)
	if got != ms {
		e.log.Info("tick interval clamped", zap.Int("requested", ms), zap.Int("applied", got))
	}
	return got
}

func (e *Engine) TickIntervalMs() int {
	return e.sched.IntervalMs()
}

// Register inserts or updates a monitor and makes sure the tick chain is running
func (e *Engine) Register(spec monitor.Spec) (monitor.Info, bool, error) {
	info, created, err := e.registry.Upsert(spec)
	if err != nil {
		return monitor.Info{}, false, err
	}

	verb, typ := "updated", event.MonitorUpdated
	if created {
		verb, typ = "created", event.MonitorCreated
	}
	e.log.Info("monitor "+verb,
		zap.Stringer("monitor", info.ID),
		zap.Stringer("probeHandle", spec.Probe),
		zap.Stringer("targetHandle", spec.Target),
		zap.String("targetBone", host.NodeLabel(spec.TargetBone)),
		zap.String("probeBones", monitor.JoinBones(spec.ProbeBones)),
		zap.Float64("activateThreshold", spec.ActivateThreshold),
		zap.Float64("restoreThreshold", spec.RestoreThreshold),
		zap.Duration("lifetime", spec.Lifetime))
	e.events.Push(event.Event{
		Type:      typ,
		At:        e.clock.Now(),
		MonitorID: info.ID,
		Probe:     spec.Probe,
		Target:    spec.Target,
		Bone:      spec.TargetBone,
	})
	e.statActive.Store(int64(e.registry.Len()))

	if !e.manual {
		e.sched.Ensure()
	}
	return info, created, nil
}

// Stop removes every monitor involving one of handles, or all monitors when handles is empty
// Owed restores are applied on the serialized context before Stop returns
// Must not be called from inside a task
func (e *Engine) Stop(handles []host.ActorHandle) (int, error) {
	removed := 0
	probes := append([]host.ActorHandle(nil), handles...)
	remove := func(restore func(*monitor.Monitor)) {
		wrapped := func(m *monitor.Monitor) {
			probes = append(probes, m.Probe)
			restore(m)
			e.eval.NotifyRemoved(m, monitor.ReasonStopped)
		}
		if len(handles) == 0 {
			removed = e.registry.RemoveAll(wrapped)
		} else {
			removed = e.registry.RemoveByIdentities(handles, wrapped)
		}
	}
	// orphans are owed by the removed probes, or by every probe when stopping all
	orphans := func() []monitor.OrphanBone {
		if len(handles) == 0 {
			return e.registry.Orphans()
		}
		return e.registry.Orphans(probes...)
	}

	err := e.runSync(func() {
		remove(func(m *monitor.Monitor) { e.eval.RestoreHandle(m) })
		e.eval.RestoreOrphans(orphans())
	})
	if err != nil {
		// Nothing can touch the scene; drop the monitors and leave restores owed
		remove(func(m *monitor.Monitor) { e.eval.Restore(m, nil) })
		e.eval.AbandonOrphans(orphans())
	}

	e.statActive.Store(int64(e.registry.Len()))
	e.log.Info("monitors stopped", zap.Int("removed", removed), zap.Int("actors", len(handles)))
	return removed, err
}

// ResetDeformedBones queues restoration of captured scales for handles (all tracked when empty)
// Returns the number of tracked bones the queued restore will cover
func (e *Engine) ResetDeformedBones(handles []host.ActorHandle) (int, error) {
	if e.scale == nil {
		return 0, ErrNoScaleChannel
	}
	tracked := e.scale.Tracked(handles...)
	if tracked == 0 {
		return 0, nil
	}

	targets := append([]host.ActorHandle(nil), handles...)
	ok := e.queue.AddTask(func() {
		restored, deferred := e.scale.RestoreActors(e.scene, e.scaleTolerance, e.log.Named("deform"), targets...)
		e.clearFlags(targets)
		e.statScalePending.Store(int64(e.scale.Pending()))
		e.log.Info("reset deformed bones", zap.Int("restored", restored), zap.Int("deferred", deferred))
	})
	if !ok {
		e.log.Error("task queue unavailable, bone reset not queued")
		return 0, ErrQueueUnavailable
	}
	return tracked, nil
}

// clearFlags forgets deformation for monitors whose probe was restored out of band
func (e *Engine) clearFlags(handles []host.ActorHandle) {
	set := make(map[host.ActorHandle]struct{}, len(handles))
	for _, h := range handles {
		set[h] = struct{}{}
	}
	e.registry.Each(func(m *monitor.Monitor) {
		if _, ok := set[m.Probe]; ok || len(set) == 0 {
			m.ClearDeformed()
		}
	})
}

// TickNow runs one processing phase on the serialized context and waits for it
// Returns the number of live monitors after the tick
func (e *Engine) TickNow() (int, error) {
	live := 0
	err := e.runSync(func() { live = e.tick() })
	return live, err
}

// runSync runs fn on the serialized context and waits for it
func (e *Engine) runSync(fn func()) error {
	done := make(chan struct{})
	if !e.queue.AddTask(func() {
		defer close(done)
		fn()
	}) {
		e.log.Error("task queue unavailable, synchronous task dropped")
		return ErrQueueUnavailable
	}
	<-done
	return nil
}

// tick is the processing phase body
func (e *Engine) tick() int {
	var waiting, deformed int64
	peak := 0.0

	live := e.registry.Tick(
		func(orphans []monitor.OrphanBone) { e.eval.RestoreOrphans(orphans) },
		func(m *monitor.Monitor) bool {
			if e.eval.Evaluate(m) {
				return true
			}
			if m.WaitingForBones {
				waiting++
			}
			deformed += int64(m.DeformedCount())
			peak = max(peak, m.MaxPenetration)
			return false
		})

	if e.scale != nil {
		if e.scale.Pending() > 0 {
			e.scale.RetryPending(e.scene, e.scaleTolerance, e.log.Named("deform"))
		}
		e.statScalePending.Store(int64(e.scale.Pending()))
	}

	e.statActive.Store(int64(live))
	e.statWaiting.Store(waiting)
	e.statDeformed.Store(deformed)
	e.statMaxPen.Set(peak)
	e.statPeakPen.Max(peak)

	if live == 0 {
		e.events.Push(event.Event{Type: event.TickStopped, At: e.clock.Now()})
	}
	return live
}
