// Package scenario describes scripted probe/target motion for offline replay
package scenario

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// DefaultTicks is used when a scenario does not set ticks
const DefaultTicks = 120

var ErrInvalid = errors.New("invalid scenario")

// Vec is a YAML [x, y, z] sequence
type Vec [3]float64

func (v Vec) R3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

type Scenario struct {
	Name           string        `yaml:"name"`
	Ticks          int           `yaml:"ticks"`
	TickIntervalMs int           `yaml:"tick_interval_ms"`
	Actors         []ActorSpec   `yaml:"actors"`
	Monitors       []MonitorSpec `yaml:"monitors"`
	Motions        []Motion      `yaml:"motions"`
	Actions        []Action      `yaml:"actions"`
}

type ActorSpec struct {
	Name   string         `yaml:"name"`
	Chains []ChainSpec    `yaml:"chains"`
	Nodes  map[string]Vec `yaml:"nodes"`
}

// ChainSpec lays out bones step apart from Start along Dir
type ChainSpec struct {
	Bones []string `yaml:"bones"`
	Start Vec      `yaml:"start"`
	Dir   Vec      `yaml:"dir"`
	Step  float64  `yaml:"step"`
}

type MonitorSpec struct {
	Tick       int           `yaml:"tick"`
	Probe      string        `yaml:"probe"`
	Bones      []string      `yaml:"bones"`
	Target     string        `yaml:"target"`
	TargetBone string        `yaml:"target_bone"`
	Activate   float64       `yaml:"activate"`
	Restore    float64       `yaml:"restore"`
	Lifetime   time.Duration `yaml:"lifetime"`
}

// Motion moves a node between From and To over ticks [Start, End]
// Without Node the whole actor is translated by (To-From) spread over the range
type Motion struct {
	Actor string `yaml:"actor"`
	Node  string `yaml:"node"`
	From  Vec    `yaml:"from"`
	To    Vec    `yaml:"to"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// ActionKind is a scripted host or bridge call
type ActionKind string

const (
	ActionDespawn    ActionKind = "despawn"
	ActionUnload     ActionKind = "unload"
	ActionLoad       ActionKind = "load"
	ActionRemoveNode ActionKind = "remove_node"
	ActionStop       ActionKind = "stop"
	ActionReset      ActionKind = "reset"
	ActionSignal     ActionKind = "signal"
	ActionInterval   ActionKind = "interval"
)

type Action struct {
	Tick   int        `yaml:"tick"`
	Do     ActionKind `yaml:"do"`
	Actor  string     `yaml:"actor"`
	Node   string     `yaml:"node"`
	Signal string     `yaml:"signal"`
	Value  int        `yaml:"value"`
}

// Load reads and validates a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Ticks == 0 {
		sc.Ticks = DefaultTicks
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks cross references; bone counts are left to the bridge so scenarios can script rejections
func (sc *Scenario) Validate() error {
	var errs error
	if sc.Ticks < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: negative ticks", ErrInvalid))
	}

	actors := make(map[string]bool, len(sc.Actors))
	for i, a := range sc.Actors {
		if a.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: actor %d has no name", ErrInvalid, i))
			continue
		}
		if actors[a.Name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: duplicate actor %q", ErrInvalid, a.Name))
		}
		actors[a.Name] = true
		for j, c := range a.Chains {
			if c.Dir == (Vec{}) {
				errs = multierr.Append(errs, fmt.Errorf("%w: actor %q chain %d has a zero direction", ErrInvalid, a.Name, j))
			}
		}
	}

	ref := func(what, name string) {
		if name != "" && !actors[name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s references unknown actor %q", ErrInvalid, what, name))
		}
	}
	for i, m := range sc.Monitors {
		ref(fmt.Sprintf("monitor %d probe", i), m.Probe)
		ref(fmt.Sprintf("monitor %d target", i), m.Target)
	}
	for i, m := range sc.Motions {
		if m.Actor == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: motion %d has no actor", ErrInvalid, i))
		}
		ref(fmt.Sprintf("motion %d", i), m.Actor)
		if m.End < m.Start {
			errs = multierr.Append(errs, fmt.Errorf("%w: motion %d ends before it starts", ErrInvalid, i))
		}
	}
	for i, a := range sc.Actions {
		ref(fmt.Sprintf("action %d", i), a.Actor)
		switch a.Do {
		case ActionDespawn, ActionUnload, ActionLoad, ActionRemoveNode:
			if a.Actor == "" {
				errs = multierr.Append(errs, fmt.Errorf("%w: action %d (%s) needs an actor", ErrInvalid, i, a.Do))
			}
		case ActionStop, ActionReset, ActionInterval:
		case ActionSignal:
			if _, ok := parseSignal(a.Signal); !ok {
				errs = multierr.Append(errs, fmt.Errorf("%w: action %d has unknown signal %q", ErrInvalid, i, a.Signal))
			}
		default:
			errs = multierr.Append(errs, fmt.Errorf("%w: action %d has unknown kind %q", ErrInvalid, i, a.Do))
		}
	}
	return errs
}
