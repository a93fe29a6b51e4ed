// Package host defines the scene-graph and task-queue contract the engine relies on
// Implementations are owned by the embedding application; host/sim provides an in-memory one
package host

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ActorHandle is an opaque, stable actor identity. Zero is never a live actor
type ActorHandle uint32

func (h ActorHandle) String() string {
	return fmt.Sprintf("%#x", uint32(h))
}

// Scene resolves actor handles to live actors
type Scene interface {
	// LookupActor returns false when the handle no longer resolves to a live actor
	LookupActor(h ActorHandle) (Actor, bool)
}

// Actor is a live actor reference. It must not be retained across ticks
type Actor interface {
	Handle() ActorHandle
	Name() string
	// Node looks up a skeleton node by name, false when not present in the current skeleton
	Node(name string) (Node, bool)
	// Is3DLoaded reports whether the renderable representation is currently resolvable
	Is3DLoaded() bool
}

// Node is a weak reference to an engine-owned skeleton node
// The host may invalidate it at any time; callers revalidate with Valid before use
type Node interface {
	Name() string
	Valid() bool

	World() r3.Vec
	LocalTranslate() r3.Vec
	SetLocalTranslate(r3.Vec)
	LocalScale() float64
	SetLocalScale(float64)
}

// TaskQueue is the host's serialized processing context
// Submitted functions run one at a time, in order, on the context that owns scene mutation
type TaskQueue interface {
	// AddTask returns false if the context is unavailable and fn will never run
	AddTask(fn func()) bool
}

// Signal is a host session lifecycle message
type Signal int

const (
	SignalPreLoad Signal = iota
	SignalPostLoad
	SignalNewGame
	SignalDataLoaded
)

func (s Signal) String() string {
	switch s {
	case SignalPreLoad:
		return "PreLoad"
	case SignalPostLoad:
		return "PostLoad"
	case SignalNewGame:
		return "NewGame"
	case SignalDataLoaded:
		return "DataLoaded"
	default:
		return "Unknown"
	}
}

// ActorLabel returns a printable actor name for logs
func ActorLabel(a Actor) string {
	if a == nil {
		return "<none>"
	}
	if n := a.Name(); n != "" {
		return n
	}
	return "<unnamed>"
}

// NodeLabel returns a printable node name for logs
func NodeLabel(name string) string {
	if name == "" {
		return "<empty>"
	}
	return name
}
