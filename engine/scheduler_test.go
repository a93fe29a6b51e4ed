package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tetherball88/Know-Your-Limits/host/sim"
	"github.com/tetherball88/Know-Your-Limits/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T, process ProcessFunc) (*Scheduler, *sim.TaskQueue, *status.Registry) {
	t.Helper()
	q := sim.NewTaskQueue(0)
	reg := status.NewRegistry()
	s := NewScheduler(q, process, reg, nil, nil)
	s.SetInterval(MinTickIntervalMs)
	t.Cleanup(func() {
		s.Close()
		q.Close()
	})
	return s, q, reg
}

func TestClampTickInterval(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, MinTickIntervalMs},
		{-5, MinTickIntervalMs},
		{16, 16},
		{50, 50},
		{1000, 1000},
		{5000, MaxTickIntervalMs},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampTickInterval(tt.in), "in=%d", tt.in)
	}
}

func TestSchedulerStateString(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "Scheduled", StateScheduled.String())
	assert.Equal(t, "Processing", StateProcessing.String())
	assert.Equal(t, "Unknown", SchedulerState(9).String())
}

func TestSchedulerDefaultInterval(t *testing.T) {
	q := sim.NewTaskQueue(0)
	defer q.Close()
	s := NewScheduler(q, func() int { return 0 }, nil, nil, nil)
	defer s.Close()

	assert.Equal(t, DefaultTickIntervalMs, s.IntervalMs())
	assert.Equal(t, 50*time.Millisecond, s.Interval())
	assert.Equal(t, 1000, s.SetInterval(4000))
}

// ============================================================================
// State machine
// ============================================================================

func TestSchedulerRunsUntilNoLiveMonitors(t *testing.T) {
	var calls atomic.Int32
	remaining := []int{3, 2, 1, 0}
	s, _, reg := newTestScheduler(t, func() int {
		n := calls.Add(1)
		return remaining[n-1]
	})
	before := time.Now().UnixMilli()

	require.True(t, s.Ensure())
	require.Eventually(t, func() bool { return s.State() == StateIdle && calls.Load() == 4 },
		2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), calls.Load(), "no tick after going idle")
	assert.Equal(t, int64(4), reg.Ints.Get(status.KeyTicks).Load())
	assert.Equal(t, "Idle", reg.Strings.Get(status.KeySchedulerState).Load())

	last := reg.Ints.Get(status.KeyLastTickUnixMs).Load()
	assert.GreaterOrEqual(t, last, before)
	assert.LessOrEqual(t, last, time.Now().UnixMilli())
	assert.GreaterOrEqual(t, reg.Ints.Get(status.KeyTickDurationUs).Load(), int64(0))
}

func TestSchedulerEnsureWhileRunningIsNoop(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s, _, _ := newTestScheduler(t, func() int {
		calls.Add(1)
		<-release
		return 0
	})

	require.True(t, s.Ensure())
	require.Eventually(t, func() bool { return s.State() == StateProcessing }, time.Second, time.Millisecond)
	assert.False(t, s.Ensure())
	assert.False(t, s.Ensure())

	close(release)
	// The Ensure calls above raced the tick; the chain runs once more rather than dropping them
	require.Eventually(t, func() bool { return s.State() == StateIdle && calls.Load() == 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestSchedulerShutdownInterruptsSleep(t *testing.T) {
	var calls atomic.Int32
	s, _, _ := newTestScheduler(t, func() int {
		calls.Add(1)
		return 1
	})
	s.SetInterval(MaxTickIntervalMs)

	require.True(t, s.Ensure())
	require.Eventually(t, func() bool { return calls.Load() == 1 && s.State() == StateScheduled },
		time.Second, time.Millisecond)

	s.Shutdown()
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, s.ShuttingDown())

	// Restart must not wait out the interrupted sleep: the first tick is immediate
	start := time.Now()
	require.True(t, s.Ensure())
	assert.False(t, s.ShuttingDown())
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 500*time.Millisecond, time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSchedulerCloseIsPrompt(t *testing.T) {
	q := sim.NewTaskQueue(0)
	defer q.Close()
	s := NewScheduler(q, func() int { return 1 }, nil, nil, nil)
	s.SetInterval(MaxTickIntervalMs)
	require.True(t, s.Ensure())
	require.Eventually(t, func() bool { return s.State() == StateScheduled && q.Executed() >= 1 },
		time.Second, time.Millisecond)

	start := time.Now()
	s.Close()
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Ensure(), "closed scheduler must not arm")
}

func TestSchedulerStaleTaskAfterShutdownIsIgnored(t *testing.T) {
	var calls atomic.Int32
	q := sim.NewTaskQueue(0)
	s := NewScheduler(q, func() int { calls.Add(1); return 1 }, nil, nil, nil)
	defer func() {
		s.Close()
		q.Close()
	}()

	// Hold the queue so the first submission stays pending
	gate := make(chan struct{})
	require.True(t, q.AddTask(func() { <-gate }))
	require.True(t, s.Ensure())
	s.Shutdown()
	close(gate)
	q.Flush()

	assert.Zero(t, calls.Load())
	assert.Equal(t, StateIdle, s.State())
}

func TestSchedulerQueueUnavailable(t *testing.T) {
	s, q, reg := newTestScheduler(t, func() int { return 1 })
	q.SetAvailable(false)

	assert.False(t, s.Ensure())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, int64(1), reg.Ints.Get(status.KeySubmitFailures).Load())

	q.SetAvailable(true)
	assert.True(t, s.Ensure())
}
