package machine

import (
	"strings"

	"github.com/mastercactapus/maslowctl/coord"
)

// StatusDisconnected is the status label before the first full status arrives.
const StatusDisconnected = "Disconnected"

// Snapshot is a complete copy of the machine state at one point in time.
type Snapshot struct {
	Connected    bool        `json:"connected"`
	Status       string      `json:"status"`
	Position     coord.Point `json:"position"`
	FeedRate     float64     `json:"feed_rate"`
	SpindleSpeed float64     `json:"spindle_speed"`
}

// InitialSnapshot is the state held before anything is heard from the bridge.
func InitialSnapshot() Snapshot {
	return Snapshot{Status: StatusDisconnected}
}

// Alarmed reports if the controller is in an alarm state.
func (s Snapshot) Alarmed() bool { return strings.HasPrefix(s.Status, "Alarm") }

// Idle reports if the controller is connected and idle.
func (s Snapshot) Idle() bool { return s.Connected && s.Status == "Idle" }
