package bridge

import "sync/atomic"

// Metrics holds counters for a Conn. Values can back a prometheus
// CounterFunc or GaugeFunc.
type Metrics struct {
	// FramesSent counts frames written, including pings.
	FramesSent atomic.Uint64
	// FramesRecv counts frames read, malformed ones included.
	FramesRecv atomic.Uint64
	// ProtocolViolations counts frames dropped as malformed.
	ProtocolViolations atomic.Uint64
	// PingsSent counts liveness probes sent.
	PingsSent atomic.Uint64
	// PongsRecv counts liveness responses received.
	PongsRecv atomic.Uint64
	// ReconnectAttempts counts dials made after a drop.
	ReconnectAttempts atomic.Uint64
	// Exhausted counts transitions to Failed.
	Exhausted atomic.Uint64
	// State is the current State.
	State atomic.Int32
}
