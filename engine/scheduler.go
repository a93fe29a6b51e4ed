package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/core"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/status"
)

// Tick interval bounds in milliseconds
const (
	MinTickIntervalMs     = 16
	MaxTickIntervalMs     = 1000
	DefaultTickIntervalMs = 50
)

// ClampTickInterval bounds ms to [MinTickIntervalMs, MaxTickIntervalMs]
func ClampTickInterval(ms int) int {
	return max(MinTickIntervalMs, min(ms, MaxTickIntervalMs))
}

// SchedulerState is the tick loop's phase
type SchedulerState int32

const (
	// StateIdle means no tick is in flight
	StateIdle SchedulerState = iota
	// StateScheduled means a sleep-then-process cycle is pending
	StateScheduled
	// StateProcessing means evaluation is running on the serialized context
	StateProcessing
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScheduled:
		return "Scheduled"
	case StateProcessing:
		return "Processing"
	default:
		return "Unknown"
	}
}

// ProcessFunc runs one tick on the serialized context and returns the number of live monitors
type ProcessFunc func() (live int)

// Scheduler alternates a sleep phase on its own worker goroutine with a processing phase
// submitted to the host task queue. It arms itself while monitors remain and goes Idle otherwise
type Scheduler struct {
	queue   host.TaskQueue
	process ProcessFunc
	now     func() time.Time
	log     *zap.Logger

	intervalMs atomic.Int64
	state      atomic.Int32

	// mu serializes arming against shutdown; the state atomic is the fast path
	mu       sync.Mutex
	shutdown atomic.Bool
	// generation invalidates tasks and sleeps that belong to a chain ended by Shutdown
	generation atomic.Uint64
	// rearm records an Ensure that may have raced with a tick going Idle
	rearm atomic.Bool

	arm  chan uint64
	wake chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool

	// Cached metric pointers
	statState      *status.AtomicString
	statInterval   *atomic.Int64
	statTicks      *atomic.Int64
	statLastTick   *atomic.Int64
	statTickTime   *atomic.Int64
	statSubmitFail *atomic.Int64
}

// NewScheduler creates a scheduler and starts its worker goroutine
func NewScheduler(queue host.TaskQueue, process ProcessFunc, reg *status.Registry, now func() time.Time, log *zap.Logger) *Scheduler {
	if reg == nil {
		reg = status.NewRegistry()
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Scheduler{
		queue:          queue,
		process:        process,
		now:            now,
		log:            log,
		arm:            make(chan uint64, 4),
		wake:           make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
		statState:      reg.Strings.Get(status.KeySchedulerState),
		statInterval:   reg.Ints.Get(status.KeyTickInterval),
		statTicks:      reg.Ints.Get(status.KeyTicks),
		statLastTick:   reg.Ints.Get(status.KeyLastTickUnixMs),
		statTickTime:   reg.Ints.Get(status.KeyTickDurationUs),
		statSubmitFail: reg.Ints.Get(status.KeySubmitFailures),
	}
	s.SetInterval(DefaultTickIntervalMs)
	s.setState(StateIdle)
	s.start()
	return s
}

func (s *Scheduler) start() {
	if s.running.CompareAndSwap(false, true) {
		s.wg.Add(1)
		core.Go(s.workerLoop)
	}
}

// Close shuts the tick chain down and stops the worker goroutine
func (s *Scheduler) Close() {
	s.Shutdown()
	s.stopOnce.Do(func() {
		if s.running.CompareAndSwap(true, false) {
			close(s.stopChan)
			s.wg.Wait()
		}
	})
}

// State returns the current phase
func (s *Scheduler) State() SchedulerState {
	return SchedulerState(s.state.Load())
}

func (s *Scheduler) setState(st SchedulerState) {
	s.state.Store(int32(st))
	s.statState.Store(st.String())
}

func (s *Scheduler) casState(from, to SchedulerState) bool {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		s.statState.Store(to.String())
		return true
	}
	return false
}

// SetInterval clamps and stores the sleep interval, returning the stored value
func (s *Scheduler) SetInterval(ms int) int {
	ms = ClampTickInterval(ms)
	s.intervalMs.Store(int64(ms))
	s.statInterval.Store(int64(ms))
	return ms
}

// IntervalMs returns the sleep interval in milliseconds
func (s *Scheduler) IntervalMs() int {
	return int(s.intervalMs.Load())
}

// Interval returns the sleep interval
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.intervalMs.Load()) * time.Millisecond
}

// Ensure arms a tick chain if none is running; the first tick is submitted immediately
// Returns true when this call started the chain
func (s *Scheduler) Ensure() bool {
	// rearm is published before the state is read; a tick going Idle reads them in the other order
	s.rearm.Store(true)
	if s.State() != StateIdle {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateIdle {
		return false
	}
	if !s.running.Load() {
		s.log.Warn("scheduler closed, tick not armed")
		return false
	}

	s.shutdown.Store(false)
	// A shutdown that found the worker awake leaves a stale wake token
	select {
	case <-s.wake:
	default:
	}

	s.rearm.Store(false)
	gen := s.generation.Add(1)
	s.setState(StateScheduled)
	s.log.Debug("tick armed", zap.Uint64("generation", gen))
	return s.submit(gen)
}

// Shutdown moves to Idle, interrupting a pending sleep and suppressing its submission
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown.Store(true)
	s.generation.Add(1)
	s.rearm.Store(false)
	prev := s.State()
	s.setState(StateIdle)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	if prev != StateIdle {
		s.log.Info("tick stopped", zap.Stringer("from", prev))
	}
}

// ShuttingDown reports whether Shutdown was requested since the last Ensure
func (s *Scheduler) ShuttingDown() bool {
	return s.shutdown.Load()
}

func (s *Scheduler) current(gen uint64) bool {
	return !s.shutdown.Load() && s.generation.Load() == gen
}

// submit hands a tick to the task queue; a rejected submission ends the chain
func (s *Scheduler) submit(gen uint64) bool {
	if s.queue.AddTask(func() { s.runTick(gen) }) {
		return true
	}

	s.statSubmitFail.Add(1)
	s.log.Error("task queue unavailable, tick not scheduled", zap.Uint64("generation", gen))
	if s.generation.Load() == gen {
		s.casState(StateScheduled, StateIdle)
	}
	return false
}

// runTick is the processing phase, always on the serialized context
func (s *Scheduler) runTick(gen uint64) {
	if !s.current(gen) {
		return
	}
	if !s.casState(StateScheduled, StateProcessing) {
		return
	}
	// Shutdown and a fresh Ensure may have landed between the two checks; the state is theirs
	if !s.current(gen) {
		s.casState(StateProcessing, StateScheduled)
		return
	}

	s.rearm.Store(false)
	start := s.now()
	live := s.process()
	s.statTicks.Add(1)
	s.statLastTick.Store(start.UnixMilli())
	s.statTickTime.Store(s.now().Sub(start).Microseconds())

	if !s.current(gen) {
		return
	}

	if live == 0 {
		if !s.casState(StateProcessing, StateIdle) {
			return
		}
		if s.rearm.Load() {
			// A registration landed after the registry was released
			s.Ensure()
			return
		}
		s.log.Info("no more active monitors, stopping tick")
		return
	}

	if !s.casState(StateProcessing, StateScheduled) {
		return
	}
	select {
	case s.arm <- gen:
	default:
		// Unreachable while one chain owns the worker; stale generations drain on wake
		s.log.Warn("scheduler arm backlog full, dropping tick chain", zap.Uint64("generation", gen))
		s.casState(StateScheduled, StateIdle)
	}
}

// workerLoop is the sleep phase. It never touches the scene
func (s *Scheduler) workerLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	for {
		select {
		case <-s.stopChan:
			return
		case gen := <-s.arm:
			if !s.current(gen) {
				continue
			}

			timer.Reset(s.Interval())
			select {
			case <-timer.C:
			case <-s.wake:
				stopTimer()
				continue
			case <-s.stopChan:
				stopTimer()
				return
			}

			if !s.current(gen) {
				continue
			}
			s.submit(gen)
		}
	}
}
