// Package bridge is the scripting-host surface of the engine
// Every call validates its arguments, reports to the console and never panics
package bridge

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/engine"
	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/monitor"
)

// Bridge exposes the engine under the script function names
type Bridge struct {
	eng     *engine.Engine
	scene   host.Scene
	console Console
	log     *zap.Logger
}

func New(eng *engine.Engine, scene host.Scene, console Console, log *zap.Logger) *Bridge {
	if console == nil {
		console = nopConsole{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{eng: eng, scene: scene, console: console, log: log}
}

func (b *Bridge) actorName(h host.ActorHandle) string {
	if a, ok := b.scene.LookupActor(h); ok {
		return host.ActorLabel(a)
	}
	return h.String()
}

func (b *Bridge) resolves(h host.ActorHandle) bool {
	if h == 0 {
		return false
	}
	_, ok := b.scene.LookupActor(h)
	return ok
}

func (b *Bridge) reject(fn, reason string) bool {
	b.log.Warn("bridge call rejected", zap.String("fn", fn), zap.String("reason", reason))
	b.console.PrintError(fmt.Sprintf("%s: %s", fn, reason))
	return false
}

// maxLifetime is the longest lifetime a time.Duration can hold; longer requests are clamped
const maxLifetime = time.Duration(math.MaxInt64)

// RegisterMonitor starts or updates a monitor
// lifetimeSeconds is optional; zero or absent means until stopped
func (b *Bridge) RegisterMonitor(probe host.ActorHandle, probeBones []string, target host.ActorHandle,
	targetBone string, activate, restore float64, lifetimeSeconds ...float64) bool {
	const fn = "RegisterMonitor"
	b.log.Info("RegisterMonitor invoked",
		zap.Stringer("probe", probe),
		zap.Stringer("target", target),
		zap.Float64("activateThreshold", activate),
		zap.Float64("restoreThreshold", restore),
		zap.Int("probeBones", len(probeBones)))

	if !b.resolves(probe) || !b.resolves(target) {
		return b.reject(fn, "invalid actor arguments.")
	}
	if len(probeBones) == 0 {
		return b.reject(fn, "probe bone list must be non-empty.")
	}
	for _, name := range probeBones {
		if name == "" {
			return b.reject(fn, "probe bone names must be non-empty.")
		}
	}
	if len(probeBones) < monitor.MinProbeBones {
		return b.reject(fn, "probe bone list must contain at least 3 bones (base, middle, tip).")
	}
	if targetBone == "" {
		return b.reject(fn, "target bone name must be non-empty.")
	}

	var lifetime time.Duration
	if len(lifetimeSeconds) > 0 {
		secs := lifetimeSeconds[0]
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return b.reject(fn, "lifetime must be a finite, non-negative number of seconds.")
		}
		lifetime = maxLifetime
		if ns := secs * float64(time.Second); ns < float64(maxLifetime) {
			lifetime = time.Duration(ns)
		}
	}

	info, created, err := b.eng.Register(monitor.Spec{
		Identity:          monitor.Identity{Probe: probe, Target: target, TargetBone: targetBone},
		ProbeBones:        probeBones,
		ActivateThreshold: activate,
		RestoreThreshold:  restore,
		Lifetime:          lifetime,
	})
	if err != nil {
		b.log.Error("register failed", zap.Error(err))
		return b.reject(fn, "failed to start monitoring.")
	}

	until := "until stopped"
	if lifetime > 0 {
		until = "for " + lifetime.String()
	}
	verb := "monitoring"
	if !created {
		verb = "updated"
	}
	b.console.Print(fmt.Sprintf("%s: %s %s.[%s] -> %s.%s (activate %.2f, restore %.2f, lifetime %s) id=%s",
		fn, verb, b.actorName(probe), monitor.JoinBones(probeBones), b.actorName(target),
		host.NodeLabel(targetBone), activate, restore, until, shortID(info)))
	return true
}

// StopMonitor removes monitors involving any of actors, or all monitors when actors is empty
// Zero handles in actors are ignored. Returns false when nothing was removed
func (b *Bridge) StopMonitor(actors []host.ActorHandle) bool {
	const fn = "StopMonitor"
	handles := make([]host.ActorHandle, 0, len(actors))
	for _, h := range actors {
		if h != 0 {
			handles = append(handles, h)
		}
	}
	// A list of only null actors means "match nothing", not "stop everything"
	if len(actors) > 0 && len(handles) == 0 {
		b.console.Print(fn + ": no valid actors given.")
		return false
	}

	removed, err := b.eng.Stop(handles)
	b.log.Info("StopMonitor invoked", zap.Int("requested", len(handles)), zap.Int("removed", removed), zap.Error(err))
	if errors.Is(err, engine.ErrQueueUnavailable) {
		b.console.PrintError(fn + ": task queue unavailable, bones will be restored later.")
	}

	if removed == 0 {
		if len(handles) == 0 {
			b.console.Print(fn + ": no active monitors.")
		} else {
			b.console.Print(fmt.Sprintf("%s: no monitors matched %d actor(s).", fn, len(handles)))
		}
		return false
	}

	if len(handles) == 0 {
		b.console.Print(fmt.Sprintf("%s: stopped all %d monitor(s).", fn, removed))
	} else {
		b.console.Print(fmt.Sprintf("%s: stopped %d monitor(s) for %d actor(s).", fn, removed, len(handles)))
	}
	return true
}

// SetTickIntervalMs clamps to [16, 1000] ms
func (b *Bridge) SetTickIntervalMs(ms int) {
	b.log.Info("SetTickIntervalMs invoked", zap.Int("intervalMs", ms))
	got := b.eng.SetTickIntervalMs(ms)
	b.console.Print(fmt.Sprintf("SetTickIntervalMs: interval set to %dms", got))
}

func (b *Bridge) GetTickIntervalMs() int {
	ms := b.eng.TickIntervalMs()
	b.log.Info("GetTickIntervalMs invoked", zap.Int("intervalMs", ms))
	return ms
}

// ResetDeformedBones queues scale restoration for actors, or every tracked actor when empty
// Returns false immediately when no matching bones are tracked
func (b *Bridge) ResetDeformedBones(actors []host.ActorHandle) bool {
	const fn = "ResetDeformedBones"
	n, err := b.eng.ResetDeformedBones(actors)
	b.log.Info("ResetDeformedBones invoked", zap.Int("actors", len(actors)), zap.Int("tracked", n), zap.Error(err))

	switch {
	case errors.Is(err, engine.ErrNoScaleChannel):
		b.console.PrintError(fn + ": only available with the scale deform mode.")
		return false
	case err != nil:
		b.console.PrintError(fmt.Sprintf("%s: %v", fn, err))
		return false
	case n == 0:
		b.console.Print(fn + ": no tracked bones.")
		return false
	}
	b.console.Print(fmt.Sprintf("%s: queued restore of %d bone(s).", fn, n))
	return true
}

// ListMonitors prints one line per monitor and returns the snapshot
func (b *Bridge) ListMonitors() []monitor.Info {
	infos := b.eng.Snapshot()
	if len(infos) == 0 {
		b.console.Print("ListMonitors: no active monitors.")
		return infos
	}
	for _, in := range infos {
		b.console.Print(FormatInfo(in, b.actorName))
	}
	return infos
}

// HandleSignal forwards a lifecycle signal and reports readiness on the console
func (b *Bridge) HandleSignal(sig host.Signal) {
	b.eng.HandleSignal(sig)
	if sig == host.SignalDataLoaded {
		b.console.Print("Know Your Limits: Ready")
	}
}

// FormatInfo renders a monitor as a single console line
func FormatInfo(in monitor.Info, name func(host.ActorHandle) string) string {
	var flags strings.Builder
	for _, d := range in.Deformed {
		if d {
			flags.WriteByte('x')
		} else {
			flags.WriteByte('.')
		}
	}
	state := "active"
	if in.WaitingForBones {
		state = "waiting"
	}
	return fmt.Sprintf("%s %s.[%s] -> %s.%s %s depth=%.2f max=%.2f deformed=%s",
		in.ID.String()[:8], name(in.Identity.Probe), monitor.JoinBones(in.ProbeBones),
		name(in.Identity.Target), host.NodeLabel(in.Identity.TargetBone), state,
		in.LastDepth, in.MaxPenetrationBeyondThreshold, flags.String())
}

func shortID(in monitor.Info) string {
	return in.ID.String()[:8]
}
