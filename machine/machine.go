package machine

import (
	"sync"
)

// Store holds the authoritative Snapshot and the traffic Transcript.
//
// Readers only ever get copies; all mutation goes through the Apply and
// Append methods.
type Store struct {
	mx      sync.RWMutex
	last    Snapshot
	traffic *Transcript

	subs        map[chan Snapshot]struct{}
	trafficSubs map[chan TrafficEntry]struct{}
}

// NewStore creates a Store keeping at most transcriptSize traffic entries.
func NewStore(transcriptSize int) *Store {
	return &Store{
		last:        InitialSnapshot(),
		traffic:     NewTranscript(transcriptSize),
		subs:        make(map[chan Snapshot]struct{}),
		trafficSubs: make(map[chan TrafficEntry]struct{}),
	}
}

// ApplyStatus replaces the snapshot with s. No field of the previous
// snapshot survives.
func (s *Store) ApplyStatus(snap Snapshot) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.last = snap
	s.publish()
}

// ApplyConnectivity patches the connected flag. It reports whether the
// value changed.
func (s *Store) ApplyConnectivity(connected bool) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.last.Connected == connected {
		return false
	}
	s.last.Connected = connected
	s.publish()
	return true
}

// AppendTraffic adds e to the transcript, evicting the oldest entry if full.
func (s *Store) AppendTraffic(e TrafficEntry) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.traffic.Append(e)
	for ch := range s.trafficSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Snapshot returns a copy of the current machine state.
func (s *Store) Snapshot() Snapshot {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.last
}

// Transcript returns the traffic entries, oldest first.
func (s *Store) Transcript() []TrafficEntry {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.traffic.Entries()
}

func (s *Store) ClearTranscript() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.traffic.Reset()
}

// Subscribe returns a channel that always holds the most recent snapshot
// not yet received. Slow readers skip intermediate states.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.mx.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.last
	s.mx.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mx.Lock()
			delete(s.subs, ch)
			s.mx.Unlock()
		})
	}
}

// SubscribeTraffic returns a channel receiving each new traffic entry.
// Entries are dropped if the reader falls more than buffer entries behind.
func (s *Store) SubscribeTraffic(buffer int) (<-chan TrafficEntry, func()) {
	ch := make(chan TrafficEntry, buffer)
	s.mx.Lock()
	s.trafficSubs[ch] = struct{}{}
	s.mx.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mx.Lock()
			delete(s.trafficSubs, ch)
			s.mx.Unlock()
		})
	}
}

// publish must be called with mx held.
func (s *Store) publish() {
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.last
	}
}
