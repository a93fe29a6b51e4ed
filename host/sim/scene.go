// Package sim is an in-memory host: a scene graph of actors and skeleton nodes
// plus a single-goroutine serialized task queue
package sim

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/tetherball88/Know-Your-Limits/host"
)

// Scene holds live actors keyed by handle
type Scene struct {
	mu         sync.RWMutex
	actors     map[host.ActorHandle]*Actor
	nextHandle host.ActorHandle
}

// NewScene creates an empty scene, handles start at 0x14 like a host's first dynamic ref
func NewScene() *Scene {
	return &Scene{
		actors:     make(map[host.ActorHandle]*Actor),
		nextHandle: 0x14,
	}
}

// Spawn creates a loaded actor with no nodes
func (s *Scene) Spawn(name string) *Actor {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.nextHandle
	s.nextHandle++

	a := &Actor{
		handle: h,
		name:   name,
		nodes:  make(map[string]*Node),
	}
	a.loaded.Store(true)
	s.actors[h] = a
	return a
}

// Despawn removes the actor; its handle stops resolving and its nodes are invalidated
func (s *Scene) Despawn(h host.ActorHandle) {
	s.mu.Lock()
	a, ok := s.actors[h]
	delete(s.actors, h)
	s.mu.Unlock()

	if ok {
		a.invalidateAll()
	}
}

// LookupActor implements host.Scene
func (s *Scene) LookupActor(h host.ActorHandle) (host.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actors[h]
	if !ok {
		return nil, false
	}
	return a, true
}

// Actor returns the concrete actor for test and sandbox setup
func (s *Scene) Actor(h host.ActorHandle) (*Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[h]
	return a, ok
}

// Actor is a simulated actor with a flat skeleton
type Actor struct {
	handle host.ActorHandle
	name   string
	loaded atomic.Bool

	mu    sync.RWMutex
	nodes map[string]*Node
}

func (a *Actor) Handle() host.ActorHandle { return a.handle }
func (a *Actor) Name() string             { return a.name }
func (a *Actor) Is3DLoaded() bool         { return a.loaded.Load() }

// SetLoaded toggles the renderable representation
func (a *Actor) SetLoaded(loaded bool) {
	a.loaded.Store(loaded)
}

// AddNode adds or replaces a node at the given rest world position
// Replacing invalidates any previously handed-out reference
func (a *Actor) AddNode(name string, world r3.Vec) *Node {
	n := &Node{name: name, rest: world, scale: 1}
	n.valid.Store(true)

	a.mu.Lock()
	if old, ok := a.nodes[name]; ok {
		old.valid.Store(false)
	}
	a.nodes[name] = n
	a.mu.Unlock()
	return n
}

// RemoveNode drops a node from the skeleton, simulating an unloaded or reloading skeleton
func (a *Actor) RemoveNode(name string) {
	a.mu.Lock()
	n, ok := a.nodes[name]
	delete(a.nodes, name)
	a.mu.Unlock()

	if ok {
		n.valid.Store(false)
	}
}

// Node implements host.Actor
func (a *Actor) Node(name string) (host.Node, bool) {
	n, ok := a.SimNode(name)
	if !ok {
		return nil, false
	}
	return n, true
}

// SimNode returns the concrete node
func (a *Actor) SimNode(name string) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.nodes[name]
	return n, ok
}

// Translate moves every node's rest position by delta, driving a simple animation
func (a *Actor) Translate(delta r3.Vec) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, n := range a.nodes {
		n.mu.Lock()
		n.rest = r3.Add(n.rest, delta)
		n.mu.Unlock()
	}
}

func (a *Actor) invalidateAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.nodes {
		n.valid.Store(false)
	}
}

// Node is a simulated skeleton node
// World position is the animated rest position plus the local translation
type Node struct {
	name  string
	valid atomic.Bool

	mu     sync.RWMutex
	rest   r3.Vec
	local  r3.Vec
	scale  float64
	writes atomic.Int64
}

func (n *Node) Name() string { return n.name }
func (n *Node) Valid() bool  { return n.valid.Load() }

func (n *Node) World() r3.Vec {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return r3.Add(n.rest, n.local)
}

// SetWorld moves the animated rest position
func (n *Node) SetWorld(v r3.Vec) {
	n.mu.Lock()
	n.rest = v
	n.mu.Unlock()
}

func (n *Node) LocalTranslate() r3.Vec {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.local
}

func (n *Node) SetLocalTranslate(v r3.Vec) {
	n.mu.Lock()
	n.local = v
	n.mu.Unlock()
	n.writes.Add(1)
}

func (n *Node) LocalScale() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scale
}

func (n *Node) SetLocalScale(s float64) {
	n.mu.Lock()
	n.scale = s
	n.mu.Unlock()
	n.writes.Add(1)
}

// Writes counts transform writes, used to assert idempotent restores
func (n *Node) Writes() int64 {
	return n.writes.Load()
}

// PresetScale sets the rest scale without counting a write
func (n *Node) PresetScale(s float64) {
	n.mu.Lock()
	n.scale = s
	n.mu.Unlock()
}

// AddChain lays out a bone chain starting at start, one node per name, step apart along dir
func (a *Actor) AddChain(names []string, start, dir r3.Vec, step float64) []*Node {
	unit := r3.Unit(dir)
	out := make([]*Node, 0, len(names))
	for i, name := range names {
		out = append(out, a.AddNode(name, r3.Add(start, r3.Scale(float64(i)*step, unit))))
	}
	return out
}
