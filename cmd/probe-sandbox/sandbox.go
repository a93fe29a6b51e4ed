package main

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/gdamore/tcell/v2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tetherball88/Know-Your-Limits/bridge"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/host/sim"
	"github.com/tetherball88/Know-Your-Limits/scenario"
)

const (
	moveStep     = 0.1
	intervalStep = 10
	consoleLines = 8
	panelWidth   = 64
)

// builtin is used when no scenario file is given: a five bone probe along +X and a target spot ahead of the tip
const builtin = `
name: sandbox
actors:
  - name: Probe
    chains:
      - bones: [Base, Shaft1, Shaft2, Shaft3, Tip]
        start: [-2, 0, 0]
        dir: [1, 0, 0]
        step: 1
  - name: Target
    nodes:
      Spot: [4, 0, 0]
monitors:
  - probe: Probe
    bones: [Base, Shaft1, Shaft2, Shaft3, Tip]
    target: Target
    target_bone: Spot
    activate: 0
    restore: -0.2
`

// uiConsole keeps the most recent bridge messages for the panel
type uiConsole struct {
	mu    sync.Mutex
	lines []panelLine
}

func (c *uiConsole) push(l panelLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
	if len(c.lines) > consoleLines {
		c.lines = slices.Delete(c.lines, 0, len(c.lines)-consoleLines)
	}
}

func (c *uiConsole) Print(msg string) { c.push(text(msg)) }
func (c *uiConsole) PrintError(msg string) {
	c.push(panelLine{msg, styleTarget})
}

func (c *uiConsole) snapshot() []panelLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.lines)
}

type command int

const (
	cmdNone command = iota
	cmdQuit
	cmdLeft
	cmdRight
	cmdUp
	cmdDown
	cmdPause
	cmdStep
	cmdReset
	cmdStop
	cmdRegister
	cmdFaster
	cmdSlower
	cmdZoomIn
	cmdZoomOut
)

func commandFor(ev *tcell.EventKey) command {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return cmdQuit
	case tcell.KeyLeft:
		return cmdLeft
	case tcell.KeyRight:
		return cmdRight
	case tcell.KeyUp:
		return cmdUp
	case tcell.KeyDown:
		return cmdDown
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return cmdQuit
		case 'h':
			return cmdLeft
		case 'l':
			return cmdRight
		case 'k':
			return cmdUp
		case 'j':
			return cmdDown
		case ' ':
			return cmdPause
		case '.':
			return cmdStep
		case 'r':
			return cmdReset
		case 's':
			return cmdStop
		case 'm':
			return cmdRegister
		case '+', '=':
			return cmdFaster
		case '-':
			return cmdSlower
		case 'z':
			return cmdZoomIn
		case 'x':
			return cmdZoomOut
		}
	}
	return cmdNone
}

// Sandbox owns the runner and view state; only the UI goroutine touches it
type Sandbox struct {
	sc      *scenario.Scenario
	runner  *scenario.Runner
	console *uiConsole

	focus     *sim.Node
	focusName string
	actors    []*sim.Actor
	chains    map[host.ActorHandle][]string

	paused bool
	zoom   float64
	err    error
}

func NewSandbox(sc *scenario.Scenario, opts scenario.Options) (*Sandbox, error) {
	sc.Ticks = math.MaxInt
	console := &uiConsole{}
	opts.Console = console

	r, err := scenario.NewRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	s := &Sandbox{
		sc:      sc,
		runner:  r,
		console: console,
		chains:  make(map[host.ActorHandle][]string),
		zoom:    6,
	}
	for _, a := range sc.Actors {
		actor, _ := r.Actor(a.Name)
		s.actors = append(s.actors, actor)
		for _, c := range a.Chains {
			s.chains[actor.Handle()] = append(s.chains[actor.Handle()], c.Bones...)
		}
	}
	// The first monitor's target bone is what the keys move
	if len(sc.Monitors) > 0 {
		m := sc.Monitors[0]
		if actor, ok := r.Actor(m.Target); ok {
			s.focus, _ = actor.SimNode(m.TargetBone)
			s.focusName = m.Target + "." + m.TargetBone
		}
	}
	return s, nil
}

func (s *Sandbox) Close() {
	s.runner.Close()
}

func (s *Sandbox) Bridge() *bridge.Bridge { return s.runner.Bridge() }

// apply executes a command, returning false to quit
func (s *Sandbox) apply(c command) bool {
	b := s.runner.Bridge()
	switch c {
	case cmdQuit:
		return false
	case cmdLeft:
		s.nudge(r3.Vec{X: -moveStep})
	case cmdRight:
		s.nudge(r3.Vec{X: moveStep})
	case cmdUp:
		s.nudge(r3.Vec{Y: moveStep})
	case cmdDown:
		s.nudge(r3.Vec{Y: -moveStep})
	case cmdPause:
		s.paused = !s.paused
	case cmdStep:
		if s.paused {
			s.step()
		}
	case cmdReset:
		b.ResetDeformedBones(nil)
	case cmdStop:
		b.StopMonitor(nil)
	case cmdRegister:
		s.register()
	case cmdFaster:
		b.SetTickIntervalMs(b.GetTickIntervalMs() - intervalStep)
	case cmdSlower:
		b.SetTickIntervalMs(b.GetTickIntervalMs() + intervalStep)
	case cmdZoomIn:
		s.zoom = min(s.zoom*1.25, 40)
	case cmdZoomOut:
		s.zoom = max(s.zoom/1.25, 1)
	}
	return true
}

func (s *Sandbox) nudge(d r3.Vec) {
	if s.focus == nil || !s.focus.Valid() {
		return
	}
	s.focus.SetWorld(r3.Add(s.focus.World(), d))
}

// register re-issues every scripted monitor through the bridge
func (s *Sandbox) register() {
	b := s.runner.Bridge()
	for _, m := range s.sc.Monitors {
		probe, ok1 := s.runner.Actor(m.Probe)
		target, ok2 := s.runner.Actor(m.Target)
		if !ok1 || !ok2 {
			continue
		}
		b.RegisterMonitor(probe.Handle(), m.Bones, target.Handle(), m.TargetBone, m.Activate, m.Restore, m.Lifetime.Seconds())
	}
}

// tick advances one engine tick unless paused
func (s *Sandbox) tick() {
	if !s.paused {
		s.step()
	}
}

func (s *Sandbox) step() {
	if err := s.runner.Step(); err != nil {
		s.err = err
		s.console.PrintError(err.Error())
	}
}

// render draws the scene into the left part of f and the panel on the right
func (s *Sandbox) render(f *Frame) {
	f.Clear()
	sceneW := max(f.W-panelWidth, f.W/2)
	vp := Viewport{Zoom: s.zoom, W: sceneW, H: f.H}

	sub := &Frame{W: sceneW, H: f.H, Cells: make([]Cell, sceneW*f.H)}
	sub.Clear()
	drawScene(sub, vp, s.actors, s.chains, s.focus)
	for y := 0; y < f.H; y++ {
		for x := 0; x < sceneW; x++ {
			f.Cells[y*f.W+x] = sub.Cells[y*sceneW+x]
		}
	}
	drawPanel(f, sceneW+1, s.panel())
}

func (s *Sandbox) panel() []panelLine {
	eng := s.runner.Engine()
	state := "running"
	if s.paused {
		state = "paused"
	}

	lines := []panelLine{
		header("Know Your Limits sandbox"),
		text(fmt.Sprintf("tick %d  %dms  %s  zoom %.1f", s.runner.Tick(), eng.TickIntervalMs(), state, s.zoom)),
		text(fmt.Sprintf("channel %s  policy %s", eng.Channel().Kind(), eng.Policy().Name())),
		text(formatFocus(s.focusName, s.focus)),
		{},
		header("Monitors"),
	}
	infos := eng.Snapshot()
	if len(infos) == 0 {
		lines = append(lines, dim("none"))
	}
	name := func(h host.ActorHandle) string {
		if a, ok := s.runner.Scene().LookupActor(h); ok {
			return host.ActorLabel(a)
		}
		return h.String()
	}
	for _, in := range infos {
		lines = append(lines, text(bridge.FormatInfo(in, name)))
	}

	lines = append(lines, panelLine{}, header("Status"))
	for _, l := range eng.Status().Lines() {
		lines = append(lines, dim(l))
	}
	lines = append(lines, panelLine{}, header("Console"))
	lines = append(lines, s.console.snapshot()...)
	lines = append(lines, panelLine{},
		dim("hjkl/arrows move  space pause  . step  m register"),
		dim("s stop  r reset  +/- interval  z/x zoom  q quit"))
	return lines
}
