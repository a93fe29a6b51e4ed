// Package event carries engine notifications out of the serialized context
// Producers push into a lock-free ring; consumers drain it on their own loop through a Router
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/tetherball88/Know-Your-Limits/host"
)

// Type discriminates engine events
type Type uint8

const (
	MonitorCreated Type = iota
	MonitorUpdated
	MonitorRemoved
	BonesWaiting
	BonesRecovered
	BoneDeformed
	BoneRestored
	PenetrationSampled
	TickStopped
)

func (t Type) String() string {
	switch t {
	case MonitorCreated:
		return "MonitorCreated"
	case MonitorUpdated:
		return "MonitorUpdated"
	case MonitorRemoved:
		return "MonitorRemoved"
	case BonesWaiting:
		return "BonesWaiting"
	case BonesRecovered:
		return "BonesRecovered"
	case BoneDeformed:
		return "BoneDeformed"
	case BoneRestored:
		return "BoneRestored"
	case PenetrationSampled:
		return "PenetrationSampled"
	case TickStopped:
		return "TickStopped"
	default:
		return "Unknown"
	}
}

// Event is a flat value so the ring never holds pointers into engine state
type Event struct {
	Type      Type
	At        time.Time
	MonitorID uuid.UUID
	Probe     host.ActorHandle
	Target    host.ActorHandle
	Bone      string

	// Depth is the measured penetration, HighWater the monitor's max beyond threshold
	Depth     float64
	HighWater float64
	// Amount is the applied translation offset or scale value
	Amount float64

	Reason string
}
