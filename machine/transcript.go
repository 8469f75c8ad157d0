package machine

import (
	"fmt"
	"math"
	"time"
)

// DefaultTranscriptSize is the number of traffic entries kept when no size is given.
const DefaultTranscriptSize = 100

// Direction tells which way a TrafficEntry traveled.
type Direction int

const (
	Sent Direction = iota
	Received
)

func (d Direction) String() string {
	switch d {
	case Sent:
		return "TX"
	case Received:
		return "RX"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "TX":
		*d = Sent
	case "RX":
		*d = Received
	default:
		return fmt.Errorf("unknown direction '%s'", b)
	}
	return nil
}

// TrafficEntry is one line of serial-level traffic.
type TrafficEntry struct {
	// Timestamp is in seconds since the epoch.
	Timestamp float64   `json:"timestamp"`
	Direction Direction `json:"direction"`
	Payload   string    `json:"payload"`
}

// Timestamp converts t to the TrafficEntry timestamp format.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Time returns the Timestamp as a time.Time.
func (e TrafficEntry) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

func (e TrafficEntry) String() string {
	return e.Time().Format("15:04:05") + " " + e.Direction.String() + " " + e.Payload
}

// Transcript is a fixed-capacity FIFO of traffic entries. Once full,
// each Append evicts the oldest entry.
//
// It is not safe for concurrent use.
type Transcript struct {
	buf   []TrafficEntry
	start int
	n     int
}

func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return &Transcript{buf: make([]TrafficEntry, size)}
}

func (t *Transcript) Len() int { return t.n }
func (t *Transcript) Cap() int { return len(t.buf) }

func (t *Transcript) Append(e TrafficEntry) {
	if t.n < len(t.buf) {
		t.buf[(t.start+t.n)%len(t.buf)] = e
		t.n++
		return
	}
	t.buf[t.start] = e
	t.start = (t.start + 1) % len(t.buf)
}

// Entries returns the entries oldest first.
func (t *Transcript) Entries() []TrafficEntry {
	res := make([]TrafficEntry, t.n)
	for i := range res {
		res[i] = t.buf[(t.start+i)%len(t.buf)]
	}
	return res
}

func (t *Transcript) Reset() {
	for i := range t.buf {
		t.buf[i] = TrafficEntry{}
	}
	t.start = 0
	t.n = 0
}
