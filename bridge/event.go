package bridge

// An Event is emitted by a Conn. The implementations are EventOpened,
// EventClosed, EventMessage, EventError and EventStateChanged.
type Event interface {
	isEvent()
}

// EventOpened is emitted once the handshake completes.
type EventOpened struct{}

// EventClosed is emitted when an open link ends.
type EventClosed struct {
	Code   int
	Reason string
}

// EventMessage carries one inbound frame, in arrival order.
type EventMessage struct {
	Frame Frame
}

// EventError reports a connection-level error. Err is
// ErrConnectivityExhausted once the retry bound is exceeded.
type EventError struct {
	Err error
}

// EventStateChanged is emitted on every state transition.
type EventStateChanged struct {
	From, To State
}

func (EventOpened) isEvent()       {}
func (EventClosed) isEvent()       {}
func (EventMessage) isEvent()      {}
func (EventError) isEvent()        {}
func (EventStateChanged) isEvent() {}
