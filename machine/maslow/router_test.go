package maslow

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/coord"
	"github.com/mastercactapus/maslowctl/machine"
)

type fakeLink struct {
	mx    sync.Mutex
	state bridge.State
	sent  []interface{}
}

func (l *fakeLink) State() bridge.State {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.state
}

func (l *fakeLink) Send(v interface{}) bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.state != bridge.Open {
		return false
	}
	l.sent = append(l.sent, v)
	return true
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRouter(state bridge.State) (*Router, *fakeLink, *machine.Store, *Metrics) {
	link := &fakeLink{state: state}
	store := machine.NewStore(machine.DefaultTranscriptSize)
	m := &Metrics{}
	return NewRouter(store, link, testLogger(), m), link, store, m
}

func TestRouter_StatusUpdate(t *testing.T) {
	r, _, store, m := newTestRouter(bridge.Open)

	snap := machine.Snapshot{Connected: true, Status: "Idle", Position: coord.Point{X: 1, Y: 2, Z: 3}, FeedRate: 1000}
	r.Route(bridge.StatusUpdate{Status: snap})
	assert.Equal(t, snap, store.Snapshot())

	r.Route(bridge.StatusUpdate{Status: machine.Snapshot{Status: "Alarm"}})
	assert.Equal(t, machine.Snapshot{Status: "Alarm"}, store.Snapshot())
	assert.Equal(t, uint64(2), m.StatusUpdates.Load())
}

func TestRouter_ConnectionStatus(t *testing.T) {
	r, link, store, _ := newTestRouter(bridge.Open)

	r.Route(bridge.ConnectionStatus{Connected: true})
	assert.True(t, store.Snapshot().Connected)
	assert.Equal(t, machine.StatusDisconnected, store.Snapshot().Status)
	assert.Equal(t, []interface{}{bridge.RequestStatus}, link.sent)

	data, err := json.Marshal(link.sent[0])
	assert.NoError(t, err)
	assert.JSONEq(t, `{"type":"request_status"}`, string(data))
}

func TestRouter_ConnectionStatusNotOpen(t *testing.T) {
	r, link, store, _ := newTestRouter(bridge.Reconnecting)

	r.Route(bridge.ConnectionStatus{Connected: false})
	assert.False(t, store.Snapshot().Connected)
	assert.Empty(t, link.sent)
}

func TestRouter_Traffic(t *testing.T) {
	r, _, store, m := newTestRouter(bridge.Open)

	r.Route(bridge.CommandSent{Command: "$H", Timestamp: 100})
	r.Route(bridge.SerialResponse{Data: "ok", Timestamp: 101})
	r.Route(bridge.SerialResponse{Data: "error:9", Timestamp: 102})

	assert.Equal(t, []machine.TrafficEntry{
		{Timestamp: 100, Direction: machine.Sent, Payload: "$H"},
		{Timestamp: 101, Direction: machine.Received, Payload: "ok"},
		{Timestamp: 102, Direction: machine.Received, Payload: "error:9"},
	}, store.Transcript())
	assert.Equal(t, uint64(3), m.TrafficEntries.Load())
	assert.Equal(t, uint64(1), m.ControllerFaults.Load())

	// traffic never touches the snapshot
	assert.Equal(t, machine.InitialSnapshot(), store.Snapshot())
}

func TestRouter_TrafficLocalTime(t *testing.T) {
	r, _, store, _ := newTestRouter(bridge.Open)

	r.Route(bridge.SerialResponse{Data: "ok"})
	entries := store.Transcript()
	if assert.Len(t, entries, 1) {
		assert.NotZero(t, entries[0].Timestamp)
	}
}

func TestRouter_Unrecognized(t *testing.T) {
	r, link, store, m := newTestRouter(bridge.Open)

	r.Route(bridge.Unrecognized{Kind: "firmware_update"})
	r.Route(bridge.Pong{})

	assert.Equal(t, uint64(1), m.Unrecognized.Load())
	assert.Equal(t, machine.InitialSnapshot(), store.Snapshot())
	assert.Empty(t, store.Transcript())
	assert.Empty(t, link.sent)
}
