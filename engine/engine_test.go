package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tetherball88/Know-Your-Limits/deform"
	"github.com/tetherball88/Know-Your-Limits/event"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/host/sim"
	"github.com/tetherball88/Know-Your-Limits/monitor"
	"github.com/tetherball88/Know-Your-Limits/status"
)

var probeBones = []string{"Probe00", "Probe01", "Probe02", "Probe03"}

// pair is a probe chain along +X and a target bone whose X sets the tip depth
type pair struct {
	probe  *sim.Actor
	target *sim.Actor
	chain  []*sim.Node
	spot   *sim.Node
}

func (p *pair) setDepth(d float64) {
	p.spot.SetWorld(r3.Vec{X: float64(len(p.chain)-1) - d})
}

func (p *pair) spec(activate, restore float64) monitor.Spec {
	return monitor.Spec{
		Identity: monitor.Identity{
			Probe:      p.probe.Handle(),
			Target:     p.target.Handle(),
			TargetBone: "Spot",
		},
		ProbeBones:        probeBones,
		ActivateThreshold: activate,
		RestoreThreshold:  restore,
	}
}

func (p *pair) displaced() int {
	n := 0
	for _, node := range p.chain {
		if node.LocalTranslate() != (r3.Vec{}) {
			n++
		}
	}
	return n
}

type harness struct {
	scene *sim.Scene
	queue *sim.TaskQueue
	clock *MockTimeProvider
	eng   *Engine
}

func newHarness(t *testing.T, channel deform.Channel) *harness {
	t.Helper()
	h := &harness{
		scene: sim.NewScene(),
		queue: sim.NewTaskQueue(0),
		clock: NewMockTimeProvider(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	eng, err := New(Options{
		Scene:          h.scene,
		Queue:          h.queue,
		Channel:        channel,
		TickIntervalMs: MinTickIntervalMs,
		Clock:          h.clock,
	})
	require.NoError(t, err)
	h.eng = eng
	t.Cleanup(func() {
		h.eng.Close()
		h.queue.Close()
	})
	return h
}

func (h *harness) pair(name string) *pair {
	p := &pair{
		probe:  h.scene.Spawn(name + "Probe"),
		target: h.scene.Spawn(name + "Target"),
	}
	p.chain = p.probe.AddChain(probeBones, r3.Vec{}, r3.Vec{X: 1}, 1)
	p.spot = p.target.AddNode("Spot", r3.Vec{X: 100})
	return p
}

func (h *harness) deformedCount() int {
	n := 0
	for _, info := range h.eng.Snapshot() {
		for _, d := range info.Deformed {
			if d {
				n++
			}
		}
	}
	return n
}

func TestNewRequiresSceneAndQueue(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

// ============================================================================
// Registration and ticking
// ============================================================================

func TestRegisterArmsSchedulerAndDeforms(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")
	p.setDepth(0.6)

	info, created, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	require.True(t, created)
	assert.NotEqual(t, StateIdle, h.eng.Scheduler().State())

	require.Eventually(t, func() bool { return p.displaced() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, -0.3, p.chain[1].LocalTranslate().Y, 1e-9)

	want := []monitor.Info{{
		ID:                            info.ID,
		Identity:                      p.spec(0, -0.2).Identity,
		ProbeBones:                    probeBones,
		ActivateThreshold:             0,
		RestoreThreshold:              -0.2,
		Deformed:                      []bool{false, true, true, false},
		MaxPenetration:                0.6,
		MaxPenetrationBeyondThreshold: 0.6,
		LastDepth:                     0.6,
	}}
	approx := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(want, h.eng.Snapshot(), approx); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	reg := h.eng.Status()
	require.Eventually(t, func() bool {
		return reg.Ints.Get(status.KeyBonesDeformed).Load() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), reg.Ints.Get(status.KeyMonitorsActive).Load())
	assert.InDelta(t, 0.6, reg.Floats.Get(status.KeyMaxPenetration).Get(), 1e-9)
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.eng.Register(monitor.Spec{})
	assert.ErrorIs(t, err, monitor.ErrInvalidSpec)
	assert.Zero(t, h.eng.MonitorCount())
	assert.Equal(t, StateIdle, h.eng.Scheduler().State())
}

func TestRegisterTwiceUpdatesInPlace(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")

	first, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	second, created, err := h.eng.Register(p.spec(0.1, -0.1))
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.eng.MonitorCount())
	assert.InDelta(t, 0.1, second.ActivateThreshold, 1e-12)
}

func TestSchedulerGoesIdleWhenActorsVanish(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")
	_, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)

	h.scene.Despawn(p.target.Handle())
	require.Eventually(t, func() bool {
		return h.eng.MonitorCount() == 0 && h.eng.Scheduler().State() == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLifetimeExpiryRemovesMonitor(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")
	p.setDepth(0.5)
	s := p.spec(0, -0.2)
	s.Lifetime = 5 * time.Second
	_, _, err := h.eng.Register(s)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.displaced() == 2 }, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(6 * time.Second)
	require.Eventually(t, func() bool {
		return h.eng.MonitorCount() == 0 && h.eng.Scheduler().State() == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, p.displaced())
}

// ============================================================================
// Stop
// ============================================================================

func TestStopAllRestoresEveryDeformedBone(t *testing.T) {
	h := newHarness(t, nil)
	pairs := []*pair{h.pair("A"), h.pair("B"), h.pair("C")}
	pairs[0].setDepth(0.5)
	pairs[1].setDepth(0.9)
	pairs[2].setDepth(-1)
	for _, p := range pairs {
		_, _, err := h.eng.Register(p.spec(0, -0.2))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return h.deformedCount() == 4 }, 2*time.Second, 5*time.Millisecond)

	removed, err := h.eng.Stop(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Zero(t, h.eng.MonitorCount())
	for i, p := range pairs {
		assert.Zero(t, p.displaced(), "pair %d", i)
	}
}

func TestStopByActorMatchesProbeOrTarget(t *testing.T) {
	h := newHarness(t, nil)
	a, b := h.pair("A"), h.pair("B")
	for _, p := range []*pair{a, b} {
		_, _, err := h.eng.Register(p.spec(0, -0.2))
		require.NoError(t, err)
	}

	removed, err := h.eng.Stop([]host.ActorHandle{b.target.Handle()})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Len(t, h.eng.Snapshot(), 1)
	assert.Equal(t, a.probe.Handle(), h.eng.Snapshot()[0].Identity.Probe)

	removed, err = h.eng.Stop([]host.ActorHandle{9999})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStopWithoutQueueStillRemoves(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")
	_, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)

	h.queue.SetAvailable(false)
	removed, err := h.eng.Stop(nil)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
	assert.Equal(t, 1, removed)
	assert.Zero(t, h.eng.MonitorCount())
}

// ============================================================================
// Scale channel
// ============================================================================

func TestResetDeformedBonesRequiresScale(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.eng.ResetDeformedBones(nil)
	assert.ErrorIs(t, err, ErrNoScaleChannel)
}

func TestResetDeformedBonesRestoresCapturedScale(t *testing.T) {
	h := newHarness(t, deform.NewScale(0, 0, nil, nil))
	p := h.pair("A")
	p.chain[1].PresetScale(1.5)

	n, err := h.eng.ResetDeformedBones(nil)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing tracked yet")

	p.setDepth(0.4)
	_, _, err = h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.eng.ScaleTable().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	// Park the chain in the hysteresis band so the reset is not immediately undone
	p.setDepth(-0.1)
	h.queue.Flush()

	n, err = h.eng.ResetDeformedBones([]host.ActorHandle{p.probe.Handle()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	h.queue.Flush()

	assert.InDelta(t, 1.5, p.chain[1].LocalScale(), 1e-9)
	assert.InDelta(t, 1.0, p.chain[2].LocalScale(), 1e-9)
	assert.Zero(t, h.eng.ScaleTable().Len())
	assert.Zero(t, h.deformedCount())
}

func TestScaleRestoreRetriedWhen3DLoads(t *testing.T) {
	h := newHarness(t, deform.NewScale(0, 0, nil, nil))
	p, other := h.pair("A"), h.pair("B")
	p.setDepth(0.4)
	_, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	// A second monitor keeps the tick chain alive after the first is stopped
	_, _, err = h.eng.Register(other.spec(0, -0.2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.eng.ScaleTable().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	p.probe.SetLoaded(false)
	_, err = h.eng.Stop([]host.ActorHandle{p.probe.Handle()})
	require.NoError(t, err)
	assert.Equal(t, 2, h.eng.ScaleTable().Pending())

	p.probe.SetLoaded(true)
	require.Eventually(t, func() bool { return h.eng.ScaleTable().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 1.0, p.chain[1].LocalScale(), 1e-9)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestSignalsAreSafeWithNoMonitors(t *testing.T) {
	h := newHarness(t, nil)
	for _, sig := range []host.Signal{host.SignalPreLoad, host.SignalPostLoad, host.SignalNewGame, host.SignalDataLoaded, host.Signal(42)} {
		assert.NotPanics(t, func() { h.eng.HandleSignal(sig) }, sig.String())
	}
	assert.Equal(t, StateIdle, h.eng.Scheduler().State())
}

func TestPreLoadRestoresButKeepsMonitors(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")
	p.setDepth(0.5)
	_, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.displaced() == 2 }, 2*time.Second, 5*time.Millisecond)

	p.setDepth(-0.1)
	h.queue.Flush()
	h.eng.HandleSignal(host.SignalPreLoad)

	assert.Zero(t, p.displaced())
	assert.Equal(t, 1, h.eng.MonitorCount())
	assert.Zero(t, h.deformedCount())
}

func TestPostLoadAndNewGameClearEverything(t *testing.T) {
	for _, sig := range []host.Signal{host.SignalPostLoad, host.SignalNewGame} {
		t.Run(sig.String(), func(t *testing.T) {
			h := newHarness(t, deform.NewScale(0, 0, nil, nil))
			p := h.pair("A")
			p.setDepth(0.5)
			_, _, err := h.eng.Register(p.spec(0, -0.2))
			require.NoError(t, err)
			require.Eventually(t, func() bool { return h.eng.ScaleTable().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

			h.eng.HandleSignal(sig)

			assert.Zero(t, h.eng.MonitorCount())
			assert.Equal(t, StateIdle, h.eng.Scheduler().State())
			assert.Zero(t, h.eng.ScaleTable().Len())
			for i, n := range p.chain {
				assert.InDelta(t, 1.0, n.LocalScale(), 1e-9, fmt.Sprintf("bone %d", i))
			}

			// The chain restarts cleanly on the next registration
			_, _, err = h.eng.Register(p.spec(0, -0.2))
			require.NoError(t, err)
			require.Eventually(t, func() bool { return h.eng.ScaleTable().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
		})
	}
}

// ============================================================================
// Events
// ============================================================================

func TestEventsReachRouter(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pair("A")
	p.setDepth(0.5)

	router := event.NewRouter(h.eng.Events())
	counts := map[event.Type]int{}
	router.On(func(ev event.Event) { counts[ev.Type]++ },
		event.MonitorCreated, event.BoneDeformed, event.MonitorRemoved)

	_, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.displaced() == 2 }, 2*time.Second, 5*time.Millisecond)
	_, err = h.eng.Stop(nil)
	require.NoError(t, err)

	router.DispatchAll()
	assert.Equal(t, 1, counts[event.MonitorCreated])
	assert.Equal(t, 2, counts[event.BoneDeformed])
	assert.Equal(t, 1, counts[event.MonitorRemoved])
}

// ============================================================================
// Manual ticking
// ============================================================================

func TestManualEngineTicksOnlyOnDemand(t *testing.T) {
	scene := sim.NewScene()
	queue := sim.NewTaskQueue(0)
	eng, err := New(Options{Scene: scene, Queue: queue, Manual: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		eng.Close()
		queue.Close()
	})

	p := &pair{probe: scene.Spawn("Probe"), target: scene.Spawn("Target")}
	p.chain = p.probe.AddChain(probeBones, r3.Vec{}, r3.Vec{X: 1}, 1)
	p.spot = p.target.AddNode("Spot", r3.Vec{X: 100})
	p.setDepth(0.6)

	_, _, err = eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, eng.Scheduler().State())
	assert.Zero(t, p.displaced())

	live, err := eng.TickNow()
	require.NoError(t, err)
	assert.Equal(t, 1, live)
	assert.Equal(t, 2, p.displaced())

	scene.Despawn(p.target.Handle())
	live, err = eng.TickNow()
	require.NoError(t, err)
	assert.Zero(t, live)
	assert.Zero(t, p.displaced())

	reg := eng.Status()
	assert.True(t, reg.Bools.Get(status.KeyManual).Load())
	assert.Zero(t, reg.Floats.Get(status.KeyMaxPenetration).Get())
	assert.InDelta(t, 0.6, reg.Floats.Get(status.KeyPeakPenetration).Get(), 1e-9, "peak survives the monitor")

	eng.HandleSignal(host.SignalNewGame)
	assert.Zero(t, reg.Floats.Get(status.KeyPeakPenetration).Get())

	queue.SetAvailable(false)
	_, err = eng.TickNow()
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

// ============================================================================
// Re-registration with a changed chain
// ============================================================================

// swappedBones replaces the first middle bone so its deformation is orphaned
var swappedBones = []string{"Probe00", "ProbeX", "Probe02", "Probe03"}

func newManualHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		scene: sim.NewScene(),
		queue: sim.NewTaskQueue(0),
		clock: NewMockTimeProvider(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	eng, err := New(Options{Scene: h.scene, Queue: h.queue, Clock: h.clock, Manual: true})
	require.NoError(t, err)
	h.eng = eng
	t.Cleanup(func() {
		h.eng.Close()
		h.queue.Close()
	})
	return h
}

// press registers p at depth 1.0 and ticks once so both middle bones move
func (h *harness) press(t *testing.T, p *pair) {
	t.Helper()
	p.setDepth(1.0)
	_, _, err := h.eng.Register(p.spec(0, -0.2))
	require.NoError(t, err)
	_, err = h.eng.TickNow()
	require.NoError(t, err)
	require.Equal(t, 2, p.displaced())
}

// swap re-registers p with Probe01 dropped from the chain, orphaning its deformation
func (h *harness) swap(t *testing.T, p *pair) {
	t.Helper()
	spec := p.spec(0, -0.2)
	spec.ProbeBones = swappedBones
	_, created, err := h.eng.Register(spec)
	require.NoError(t, err)
	require.False(t, created)
	require.NotEqual(t, r3.Vec{}, p.chain[1].LocalTranslate())
}

func (h *harness) deformThenSwap(t *testing.T, p *pair) {
	t.Helper()
	h.press(t, p)
	h.swap(t, p)
}

func TestStopRestoresOrphanedBones(t *testing.T) {
	h := newManualHarness(t)
	p := h.pair("A")
	h.deformThenSwap(t, p)

	removed, err := h.eng.Stop(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, p.displaced())
	assert.Equal(t, r3.Vec{}, p.chain[1].LocalTranslate())
}

func TestStopByActorRestoresOnlyItsOrphans(t *testing.T) {
	h := newManualHarness(t)
	a := h.pair("A")
	b := h.pair("B")
	h.press(t, a)
	h.press(t, b)
	h.swap(t, a)
	h.swap(t, b)

	removed, err := h.eng.Stop([]host.ActorHandle{a.target.Handle()})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, a.displaced())

	// B's orphan stays queued for its next tick
	assert.NotEqual(t, r3.Vec{}, b.chain[1].LocalTranslate())
	_, err = h.eng.TickNow()
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{}, b.chain[1].LocalTranslate())
}

func TestNewGameRestoresOrphanedBones(t *testing.T) {
	h := newManualHarness(t)
	p := h.pair("A")
	h.deformThenSwap(t, p)

	h.eng.HandleSignal(host.SignalNewGame)
	assert.Zero(t, p.displaced())
	assert.Zero(t, h.eng.MonitorCount())
}

func TestPreLoadRestoresOrphanedBones(t *testing.T) {
	h := newManualHarness(t)
	p := h.pair("A")
	h.deformThenSwap(t, p)

	h.eng.HandleSignal(host.SignalPreLoad)
	assert.Equal(t, r3.Vec{}, p.chain[1].LocalTranslate())
	assert.Equal(t, 1, h.eng.MonitorCount())
}

func TestShutdownDropsOrphansItCannotReach(t *testing.T) {
	h := newManualHarness(t)
	p := h.pair("A")
	h.deformThenSwap(t, p)

	h.queue.SetAvailable(false)
	h.eng.HandleSignal(host.SignalNewGame)
	assert.Zero(t, h.eng.MonitorCount())

	// Nothing stale is replayed once the queue is back
	h.queue.SetAvailable(true)
	p.chain[1].SetLocalTranslate(r3.Vec{Y: -7})
	_, err := h.eng.TickNow()
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{Y: -7}, p.chain[1].LocalTranslate())
}
