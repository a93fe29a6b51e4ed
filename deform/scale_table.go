package deform

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tetherball88/Know-Your-Limits/host"
	"github.com/tetherball88/Know-Your-Limits/vmath"
)

// ScaleTable remembers the pre-deformation scale of every scaled (actor, bone) pair
// It has its own mutex; callers must not hold it while touching the monitor registry
type ScaleTable struct {
	mu      sync.Mutex
	records map[host.ActorHandle]map[string]*scaleEntry
}

// scaleEntry is one ScaledBoneRecord; pending marks a restore that was owed but deferred
type scaleEntry struct {
	scale   float64
	pending bool
}

func NewScaleTable() *ScaleTable {
	return &ScaleTable{records: make(map[host.ActorHandle]map[string]*scaleEntry)}
}

// Capture stores scale for (h, bone) unless a record already exists
// Returns true when a new record was created
func (t *ScaleTable) Capture(h host.ActorHandle, bone string, scale float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	bones, ok := t.records[h]
	if !ok {
		bones = make(map[string]*scaleEntry)
		t.records[h] = bones
	}
	if e, exists := bones[bone]; exists {
		// Re-deforming a bone with a deferred restore cancels the pending restore
		e.pending = false
		return false
	}
	bones[bone] = &scaleEntry{scale: scale}
	return true
}

// Lookup returns the captured scale for (h, bone)
func (t *ScaleTable) Lookup(h host.ActorHandle, bone string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.records[h][bone]
	if !ok {
		return 0, false
	}
	return e.scale, true
}

func (t *ScaleTable) markPending(h host.ActorHandle, bone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.records[h][bone]; ok {
		e.pending = true
	}
}

// Pending returns the number of restores that were owed but deferred
func (t *ScaleTable) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, bones := range t.records {
		for _, e := range bones {
			if e.pending {
				n++
			}
		}
	}
	return n
}

func (t *ScaleTable) forget(h host.ActorHandle, bone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bones, ok := t.records[h]
	if !ok {
		return
	}
	delete(bones, bone)
	if len(bones) == 0 {
		delete(t.records, h)
	}
}

// Len returns the number of (actor, bone) records
func (t *ScaleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, bones := range t.records {
		n += len(bones)
	}
	return n
}

// Tracked returns how many records belong to the given actors, or to all actors if none given
func (t *ScaleTable) Tracked(handles ...host.ActorHandle) int {
	if len(handles) == 0 {
		return t.Len()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, h := range handles {
		n += len(t.records[h])
	}
	return n
}

// Clear drops every record without restoring anything
func (t *ScaleTable) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, bones := range t.records {
		n += len(bones)
	}
	t.records = make(map[host.ActorHandle]map[string]*scaleEntry)
	return n
}

type scaleRecord struct {
	actor host.ActorHandle
	bone  string
	scale float64
}

// snapshot copies records for handles (all when empty) in a stable order
// pendingOnly limits the copy to deferred restores
func (t *ScaleTable) snapshot(handles []host.ActorHandle, pendingOnly bool) []scaleRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var want map[host.ActorHandle]struct{}
	if len(handles) > 0 {
		want = make(map[host.ActorHandle]struct{}, len(handles))
		for _, h := range handles {
			want[h] = struct{}{}
		}
	}

	var out []scaleRecord
	for h, bones := range t.records {
		if want != nil {
			if _, ok := want[h]; !ok {
				continue
			}
		}
		for bone, e := range bones {
			if pendingOnly && !e.pending {
				continue
			}
			out = append(out, scaleRecord{actor: h, bone: bone, scale: e.scale})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].actor != out[j].actor {
			return out[i].actor < out[j].actor
		}
		return out[i].bone < out[j].bone
	})
	return out
}

func (t *ScaleTable) restoreOne(actor host.Actor, node host.Node, tol float64, log *zap.Logger) Result {
	h := actor.Handle()
	original, ok := t.Lookup(h, node.Name())
	if !ok {
		return Skipped
	}
	if !actor.Is3DLoaded() || !node.Valid() {
		t.markPending(h, node.Name())
		log.Debug("scale restore deferred",
			zap.String("actor", host.ActorLabel(actor)),
			zap.String("node", node.Name()))
		return Deferred
	}

	res := Skipped
	if !vmath.Within(node.LocalScale(), original, tol) {
		node.SetLocalScale(original)
		res = Written
	}
	t.forget(h, node.Name())
	log.Debug("restored bone scale",
		zap.String("actor", host.ActorLabel(actor)),
		zap.String("node", node.Name()),
		zap.Float64("scale", original))
	return res
}

// RestoreActors writes back captured scales for the given actors (all when empty)
// Records whose actor, 3D or node cannot be resolved stay in the table for a later retry
// Must run on the serialized processing context
func (t *ScaleTable) RestoreActors(scene host.Scene, tol float64, log *zap.Logger, handles ...host.ActorHandle) (restored, deferred int) {
	return t.restore(scene, tol, log, handles, false)
}

// RetryPending retries only the deferred restores, leaving live deformations alone
func (t *ScaleTable) RetryPending(scene host.Scene, tol float64, log *zap.Logger) (restored, deferred int) {
	return t.restore(scene, tol, log, nil, true)
}

func (t *ScaleTable) restore(scene host.Scene, tol float64, log *zap.Logger, handles []host.ActorHandle, pendingOnly bool) (restored, deferred int) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, rec := range t.snapshot(handles, pendingOnly) {
		actor, ok := scene.LookupActor(rec.actor)
		if !ok || !actor.Is3DLoaded() {
			t.markPending(rec.actor, rec.bone)
			deferred++
			continue
		}
		node, ok := actor.Node(rec.bone)
		if !ok {
			t.markPending(rec.actor, rec.bone)
			deferred++
			continue
		}
		switch t.restoreOne(actor, node, tol, log) {
		case Deferred:
			deferred++
		default:
			restored++
		}
	}
	return restored, deferred
}
