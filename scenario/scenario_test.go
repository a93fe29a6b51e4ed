package scenario

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/tetherball88/Know-Your-Limits/engine"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	return sc
}

// ============================================================================
// Parsing and validation
// ============================================================================

func TestLoadApproach(t *testing.T) {
	sc := load(t, "approach.yaml")
	assert.Equal(t, "approach", sc.Name)
	assert.Equal(t, 40, sc.Ticks)
	require.Len(t, sc.Actors, 2)
	assert.Equal(t, Vec{1, 0, 0}, sc.Actors[0].Chains[0].Dir)
	assert.Equal(t, Vec{6, 0, 0}, sc.Actors[1].Nodes["Spot"])
	require.Len(t, sc.Monitors, 2)
	assert.Equal(t, 2, sc.Monitors[1].Tick)
}

func TestParseDefaults(t *testing.T) {
	sc, err := Parse([]byte("name: empty\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTicks, sc.Ticks)
}

func TestValidateCollectsErrors(t *testing.T) {
	_, err := Parse([]byte(`
actors:
  - name: A
    chains:
      - bones: [a, b, c]
  - name: A
  - {}
monitors:
  - probe: Ghost
    target: A
motions:
  - actor: A
    start: 5
    end: 1
actions:
  - do: explode
  - do: signal
    signal: Reboot
  - do: despawn
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	// zero dir, duplicate, unnamed, ghost ref, motion order, unknown kind, unknown signal, despawn without actor
	assert.Len(t, multierr.Errors(err), 8)
}

func TestParseSignal(t *testing.T) {
	for _, name := range []string{"PreLoad", "post_load", "NEWGAME", "dataloaded"} {
		_, ok := parseSignal(name)
		assert.True(t, ok, name)
	}
	_, ok := parseSignal("Reboot")
	assert.False(t, ok)
}

// ============================================================================
// Replay
// ============================================================================

func TestReplayApproach(t *testing.T) {
	r, err := NewRunner(load(t, "approach.yaml"), Options{})
	require.NoError(t, err)
	defer r.Close()

	// Step to the deepest point and check the chain is bent
	for r.Tick() <= 20 {
		require.NoError(t, r.Step())
	}
	probe, ok := r.Actor("Probe")
	require.True(t, ok)
	mid, ok := probe.SimNode("Mid1")
	require.True(t, ok)
	assert.Less(t, mid.LocalTranslate().Y, 0.0)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, res.Ticks)
	assert.Equal(t, 1, res.Rejected, "two-bone chain is refused")
	require.Len(t, res.Monitors, 1)
	assert.InDelta(t, 0.6, res.Monitors[0].MaxPenetrationBeyondThreshold, 1e-9)
	assert.Zero(t, res.Displaced, "backed out past the restore threshold")

	require.Len(t, res.Series, 1)
	assert.Equal(t, 40, len(res.Series[0].Samples))
	assert.InDelta(t, 0.6, res.Series[0].Peak(), 1e-9)
	assert.Equal(t, 2, res.Series[0].Deformations)
	assert.Equal(t, 2, res.Series[0].Restorations)
}

func TestReplayVanishingTarget(t *testing.T) {
	r, err := NewRunner(load(t, "vanish.yaml"), Options{})
	require.NoError(t, err)
	defer r.Close()

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Monitors)
	assert.Zero(t, res.Displaced)
	require.Len(t, res.Series, 1)
	assert.True(t, res.Series[0].Removed)
	assert.Len(t, res.Series[0].Samples, 5)
}

func TestRunHonoursContext(t *testing.T) {
	r, err := NewRunner(load(t, "vanish.yaml"), Options{})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerUsesScenarioInterval(t *testing.T) {
	r, err := NewRunner(load(t, "approach.yaml"), Options{Engine: engine.Options{TickIntervalMs: 200}})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 50, r.Engine().TickIntervalMs())
	assert.NotNil(t, r.Scene())
}
