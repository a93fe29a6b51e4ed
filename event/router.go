package event

// Handler receives routed events
type Handler interface {
	HandleEvent(ev Event)
	// EventTypes returns the types this handler processes
	EventTypes() []Type
}

// HandlerFunc adapts a function to Handler for a fixed set of types
type HandlerFunc struct {
	Types []Type
	Fn    func(Event)
}

func (h HandlerFunc) HandleEvent(ev Event) { h.Fn(ev) }
func (h HandlerFunc) EventTypes() []Type   { return h.Types }

// Router dispatches queued events to registered handlers
// Single-threaded: DispatchAll must be called from one goroutine, outside the serialized context
type Router struct {
	handlers map[Type][]Handler
	queue    *Queue
}

func NewRouter(queue *Queue) *Router {
	return &Router{
		handlers: make(map[Type][]Handler),
		queue:    queue,
	}
}

// Register adds a handler for its declared event types, invoked in registration order
func (r *Router) Register(h Handler) {
	for _, t := range h.EventTypes() {
		r.handlers[t] = append(r.handlers[t], h)
	}
}

// On registers fn for the given types
func (r *Router) On(fn func(Event), types ...Type) {
	r.Register(HandlerFunc{Types: types, Fn: fn})
}

// DispatchAll consumes pending events in FIFO order, returns how many were consumed
func (r *Router) DispatchAll() int {
	events := r.queue.Consume()
	for _, ev := range events {
		for _, h := range r.handlers[ev.Type] {
			h.HandleEvent(ev)
		}
	}
	return len(events)
}

// HandlerCount returns the number of handlers registered for the given type
func (r *Router) HandlerCount(t Type) int {
	return len(r.handlers[t])
}
