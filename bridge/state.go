package bridge

import "strconv"

// State is the lifecycle state of a Conn.
type State int32

const (
	// Disconnected means no link exists and none will be attempted until Open.
	Disconnected State = iota
	// Connecting means a handshake is in progress.
	Connecting
	// Open means the link is up and frames flow in both directions.
	Open
	// Reconnecting means the link dropped and a retry is scheduled.
	Reconnecting
	// Failed means the retry bound was exceeded. Only Open leaves this state.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
