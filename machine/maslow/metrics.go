package maslow

import "sync/atomic"

// Metrics holds counters for routing and dispatch.
type Metrics struct {
	StatusUpdates  atomic.Uint64
	TrafficEntries atomic.Uint64
	Unrecognized   atomic.Uint64
	// ControllerFaults counts error:N and ALARM:N lines echoed by the bridge.
	ControllerFaults atomic.Uint64

	Dispatched      atomic.Uint64
	Succeeded       atomic.Uint64
	NotReady        atomic.Uint64
	Busy            atomic.Uint64
	TransportErrors atomic.Uint64
}
