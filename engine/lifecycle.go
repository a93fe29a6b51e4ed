package engine

import (
	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/monitor"
)

// HandleSignal maps a host session signal to its engine action
// Safe with an empty registry. Must not be called from inside a task
func (e *Engine) HandleSignal(sig host.Signal) {
	e.log.Info("lifecycle signal", zap.Stringer("signal", sig))

	switch sig {
	case host.SignalPreLoad:
		e.RestoreAll()
	case host.SignalPostLoad, host.SignalNewGame:
		e.Shutdown()
	case host.SignalDataLoaded:
		e.log.Info("Ready")
	default:
		e.log.Warn("unknown lifecycle signal", zap.Int("signal", int(sig)))
	}
}

// RestoreAll forces every deformed bone back and drops node caches, keeping the monitors
// Node references are unsafe to reuse across a load
func (e *Engine) RestoreAll() int {
	restored := 0
	err := e.runSync(func() {
		e.registry.Each(func(m *monitor.Monitor) {
			restored += e.eval.RestoreHandle(m)
			m.DropCache()
		})
		restored += e.eval.RestoreOrphans(e.registry.Orphans())
		restored += e.restoreScale()
	})
	if err != nil {
		e.registry.Each(func(m *monitor.Monitor) {
			e.eval.Restore(m, nil)
			m.DropCache()
		})
		e.eval.AbandonOrphans(e.registry.Orphans())
	}
	e.log.Info("restored all deformed bones", zap.Int("restored", restored))
	return restored
}

// Shutdown stops the tick chain, restores and clears every monitor and empties the scale table
func (e *Engine) Shutdown() int {
	e.sched.Shutdown()

	count := 0
	clearAll := func(restore func(*monitor.Monitor)) {
		count = e.registry.RemoveAll(func(m *monitor.Monitor) {
			restore(m)
			e.eval.NotifyRemoved(m, monitor.ReasonShutdown)
		})
	}
	err := e.runSync(func() {
		clearAll(func(m *monitor.Monitor) { e.eval.RestoreHandle(m) })
		e.eval.RestoreOrphans(e.registry.Orphans())
		e.restoreScale()
	})
	if err != nil {
		clearAll(func(m *monitor.Monitor) { e.eval.Restore(m, nil) })
	}
	// Handles do not survive the session; whatever is still owed is dropped
	if dropped := len(e.registry.Orphans()); dropped > 0 {
		e.log.Warn("dropped unrestorable orphan bones", zap.Int("count", dropped))
	}

	if e.scale != nil {
		if dropped := e.scale.Clear(); dropped > 0 {
			e.log.Warn("dropped unrestorable scale records", zap.Int("count", dropped))
		}
		e.statScalePending.Store(0)
	}
	e.statActive.Store(0)
	e.statDeformed.Store(0)
	e.statWaiting.Store(0)
	e.statMaxPen.Set(0)
	e.statPeakPen.Set(0)

	if count > 0 {
		e.log.Info("cleared monitors", zap.Int("count", count))
	}
	e.log.Info("monitoring system shutdown complete")
	return count
}

// restoreScale writes back every captured scale it can reach; runs on the serialized context
func (e *Engine) restoreScale() int {
	if e.scale == nil || e.scale.Len() == 0 {
		return 0
	}
	restored, deferred := e.scale.RestoreActors(e.scene, e.scaleTolerance, e.log.Named("deform"))
	if deferred > 0 {
		e.log.Info("scale restores deferred", zap.Int("deferred", deferred))
	}
	return restored
}
