package bridge

import (
	"time"

	"github.com/gorilla/websocket"
)

// Backoff returns the delay before reconnect attempt n (0-based):
// base * 2^n, capped at max.
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// fsm is the connection state machine. It holds no timers or sockets;
// the caller performs the side effects each transition asks for.
type fsm struct {
	state   State
	attempt int

	base, max   time.Duration
	maxAttempts int
}

// open handles an explicit Open request. It reports whether a dial
// should start.
func (m *fsm) open() bool {
	switch m.state {
	case Disconnected, Failed:
		m.state = Connecting
		m.attempt = 0
		return true
	case Reconnecting:
		// skip the remaining delay
		m.state = Connecting
		m.attempt++
		return true
	}
	return false
}

// opened handles a completed handshake.
func (m *fsm) opened() {
	m.state = Open
	m.attempt = 0
}

// dropped handles the loss of the link (or a failed dial) with the given
// close code. When the next state is Reconnecting, delay is how long to
// wait before calling retry.
func (m *fsm) dropped(code int) (next State, delay time.Duration) {
	switch {
	case m.state != Open && m.state != Connecting:
		return m.state, 0
	case code == websocket.CloseNormalClosure:
		m.state = Disconnected
		m.attempt = 0
	case m.attempt >= m.maxAttempts:
		m.state = Failed
	default:
		m.state = Reconnecting
		delay = Backoff(m.base, m.max, m.attempt)
	}
	return m.state, delay
}

// retry handles an elapsed backoff delay.
func (m *fsm) retry() bool {
	if m.state != Reconnecting {
		return false
	}
	m.state = Connecting
	m.attempt++
	return true
}

// close handles a manual close from any state.
func (m *fsm) close() {
	m.state = Disconnected
	m.attempt = 0
}
