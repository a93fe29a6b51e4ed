package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tetherball88/Know-Your-Limits/bridge"
	"github.com/tetherball88/Know-Your-Limits/engine"
	"github.com/tetherball88/Know-Your-Limits/event"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/host/sim"
	"github.com/tetherball88/Know-Your-Limits/monitor"
	"github.com/tetherball88/Know-Your-Limits/telemetry"
)

// Epoch is the simulated clock origin of every replay
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Options tunes a Runner. Engine supplies channel, policy and logging;
// scene, queue, clock and manual ticking are owned by the runner
type Options struct {
	Engine   engine.Options
	Console  bridge.Console
	Recorder *telemetry.Recorder
	// Attach subscribes extra consumers (audio, UI) to the event router
	Attach func(*event.Router)
}

// Result summarizes a finished replay
type Result struct {
	Name      string
	Ticks     int
	Rejected  int
	Events    int
	Dropped   uint64
	Monitors  []monitor.Info
	Series    []telemetry.Series
	Displaced int
}

// Runner replays a scenario on the in-memory host with a manually ticked engine
type Runner struct {
	sc     *Scenario
	scene  *sim.Scene
	queue  *sim.TaskQueue
	clock  *engine.MockTimeProvider
	eng    *engine.Engine
	bridge *bridge.Bridge
	router *event.Router
	rec    *telemetry.Recorder
	actors map[string]*sim.Actor
	log    *zap.Logger
	tick   int
	events int
	reject int
}

func NewRunner(sc *Scenario, opts Options) (*Runner, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	log := opts.Engine.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := &Runner{
		sc:     sc,
		scene:  sim.NewScene(),
		queue:  sim.NewTaskQueue(0),
		clock:  engine.NewMockTimeProvider(Epoch),
		rec:    opts.Recorder,
		actors: make(map[string]*sim.Actor, len(sc.Actors)),
		log:    log.Named("scenario"),
	}
	if r.rec == nil {
		r.rec = telemetry.NewRecorder(0)
	}

	eo := opts.Engine
	eo.Scene = r.scene
	eo.Queue = r.queue
	eo.Clock = r.clock
	eo.Manual = true
	if sc.TickIntervalMs > 0 {
		eo.TickIntervalMs = sc.TickIntervalMs
	}
	eng, err := engine.New(eo)
	if err != nil {
		r.queue.Close()
		return nil, err
	}
	r.eng = eng
	r.bridge = bridge.New(eng, r.scene, opts.Console, log.Named("bridge"))
	r.router = event.NewRouter(eng.Events())
	r.rec.Attach(r.router)
	if opts.Attach != nil {
		opts.Attach(r.router)
	}

	for _, a := range sc.Actors {
		actor := r.scene.Spawn(a.Name)
		for _, c := range a.Chains {
			step := c.Step
			if step == 0 {
				step = 1
			}
			actor.AddChain(c.Bones, c.Start.R3(), c.Dir.R3(), step)
		}
		for name, pos := range a.Nodes {
			actor.AddNode(name, pos.R3())
		}
		r.actors[a.Name] = actor
	}
	return r, nil
}

func (r *Runner) Scene() *sim.Scene             { return r.scene }
func (r *Runner) Engine() *engine.Engine        { return r.eng }
func (r *Runner) Bridge() *bridge.Bridge        { return r.bridge }
func (r *Runner) Recorder() *telemetry.Recorder { return r.rec }
func (r *Runner) Tick() int                     { return r.tick }
func (r *Runner) Done() bool                    { return r.tick >= r.sc.Ticks }

// Actor returns a scenario actor by name, even after it was despawned
func (r *Runner) Actor(name string) (*sim.Actor, bool) {
	a, ok := r.actors[name]
	return a, ok
}

func (r *Runner) handle(name string) host.ActorHandle {
	if a, ok := r.actors[name]; ok {
		return a.Handle()
	}
	return 0
}

// Step applies the scripted input for the current tick, runs one engine tick and routes its events
func (r *Runner) Step() error {
	t := r.tick
	for _, m := range r.sc.Monitors {
		if m.Tick == t {
			r.register(m)
		}
	}
	for _, a := range r.sc.Actions {
		if a.Tick == t {
			r.act(a)
		}
	}
	for _, m := range r.sc.Motions {
		r.move(m, t)
	}

	r.clock.Advance(r.eng.Scheduler().Interval())
	if _, err := r.eng.TickNow(); err != nil {
		return fmt.Errorf("tick %d: %w", t, err)
	}
	r.events += r.router.DispatchAll()
	r.tick++
	return nil
}

// Run steps until the scenario's tick count is reached or ctx is done
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	for !r.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.Step(); err != nil {
			return nil, err
		}
	}
	return r.result(), nil
}

func (r *Runner) result() *Result {
	res := &Result{
		Name:     r.sc.Name,
		Ticks:    r.tick,
		Rejected: r.reject,
		Events:   r.events,
		Dropped:  r.eng.Events().Dropped(),
		Monitors: r.eng.Snapshot(),
		Series:   r.rec.Series(),
	}
	for _, a := range r.actors {
		for _, chain := range r.sc.chainsOf(a.Name()) {
			for _, b := range chain.Bones {
				if n, ok := a.SimNode(b); ok && (n.LocalTranslate() != r3.Vec{} || n.LocalScale() != 1) {
					res.Displaced++
				}
			}
		}
	}
	return res
}

// Close shuts the engine down, restoring anything still deformed
func (r *Runner) Close() {
	r.eng.HandleSignal(host.SignalNewGame)
	r.router.DispatchAll()
	r.eng.Close()
	r.queue.Close()
}

func (sc *Scenario) chainsOf(actor string) []ChainSpec {
	for _, a := range sc.Actors {
		if a.Name == actor {
			return a.Chains
		}
	}
	return nil
}

func (r *Runner) register(m MonitorSpec) {
	ok := r.bridge.RegisterMonitor(r.handle(m.Probe), m.Bones, r.handle(m.Target), m.TargetBone,
		m.Activate, m.Restore, m.Lifetime.Seconds())
	if !ok {
		r.reject++
	}
}

func (r *Runner) act(a Action) {
	r.log.Debug("action", zap.Int("tick", a.Tick), zap.String("do", string(a.Do)), zap.String("actor", a.Actor))
	actor := r.actors[a.Actor]
	var handles []host.ActorHandle
	if a.Actor != "" {
		handles = []host.ActorHandle{r.handle(a.Actor)}
	}

	switch a.Do {
	case ActionDespawn:
		r.scene.Despawn(actor.Handle())
	case ActionUnload:
		actor.SetLoaded(false)
	case ActionLoad:
		actor.SetLoaded(true)
	case ActionRemoveNode:
		actor.RemoveNode(a.Node)
	case ActionStop:
		r.bridge.StopMonitor(handles)
	case ActionReset:
		r.bridge.ResetDeformedBones(handles)
	case ActionSignal:
		sig, _ := parseSignal(a.Signal)
		r.bridge.HandleSignal(sig)
	case ActionInterval:
		r.bridge.SetTickIntervalMs(a.Value)
	}
}

func (r *Runner) move(m Motion, t int) {
	if t < m.Start || t > m.End {
		return
	}
	actor, ok := r.actors[m.Actor]
	if !ok {
		return
	}
	from, to := m.From.R3(), m.To.R3()
	span := float64(m.End - m.Start)

	if m.Node == "" {
		switch {
		case span == 0:
			actor.Translate(r3.Sub(to, from))
		case t > m.Start:
			actor.Translate(r3.Scale(1/span, r3.Sub(to, from)))
		}
		return
	}

	n, ok := actor.SimNode(m.Node)
	if !ok {
		return
	}
	frac := 1.0
	if span > 0 {
		frac = float64(t-m.Start) / span
	}
	n.SetWorld(r3.Add(from, r3.Scale(frac, r3.Sub(to, from))))
}

func parseSignal(name string) (host.Signal, bool) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "")) {
	case "preload":
		return host.SignalPreLoad, true
	case "postload":
		return host.SignalPostLoad, true
	case "newgame":
		return host.SignalNewGame, true
	case "dataloaded":
		return host.SignalDataLoaded, true
	default:
		return 0, false
	}
}
