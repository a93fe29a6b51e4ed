// Package deform applies and reverses per-bone deformation
// Two channels exist: Translation pulls a bone back along its local axis, Scale shrinks it
// Neither forces a world transform update; the host picks changes up on its next animation pass
package deform

import (
	"fmt"
	"strings"

	"github.com/tetherball88/Know-Your-Limits/host"
)

// Kind selects a deformation channel
type Kind int

const (
	KindTranslation Kind = iota
	KindScale
)

func (k Kind) String() string {
	switch k {
	case KindTranslation:
		return "translate"
	case KindScale:
		return "scale"
	default:
		return "unknown"
	}
}

// ParseKind accepts "translate"/"translation" and "scale"
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "translate", "translation":
		return KindTranslation, nil
	case "scale":
		return KindScale, nil
	default:
		return 0, fmt.Errorf("unknown deform mode %q", s)
	}
}

// Result reports what a channel call did to the bone
type Result int

const (
	// Skipped means no write was needed: already at target or nothing owed
	Skipped Result = iota
	Written
	// Deferred means a restore is owed but the actor cannot take it yet
	Deferred
	// Rejected means the input was unusable (invalid node, non-finite value) and the bone is untouched
	Rejected
)

func (r Result) String() string {
	switch r {
	case Skipped:
		return "skipped"
	case Written:
		return "written"
	case Deferred:
		return "deferred"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Channel deforms and restores a single bone
// Calls must happen on the serialized processing context
type Channel interface {
	Kind() Kind
	// Apply deforms node by amount. Translation uses amount as the offset; Scale ignores it
	Apply(actor host.Actor, node host.Node, amount float64) Result
	// Restore reverses a deformation; a bone that is not deformed is left untouched
	Restore(actor host.Actor, node host.Node) Result
}

// Deferrer is implemented by channels that can owe a restore to an unresolvable bone
type Deferrer interface {
	Defer(h host.ActorHandle, bone string) bool
}
