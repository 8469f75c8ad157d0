package machine

import (
	"fmt"
	"testing"

	"github.com/mastercactapus/maslowctl/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Initial(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, Snapshot{Status: "Disconnected"}, s.Snapshot())
	assert.Empty(t, s.Transcript())
}

func TestStore_ApplyStatusLastWriteWins(t *testing.T) {
	s := NewStore(10)

	frames := []Snapshot{
		{Connected: true, Status: "Run", Position: coord.Point{X: 1, Y: 2, Z: 3}, FeedRate: 800, SpindleSpeed: 12000},
		{Connected: true, Status: "Hold:0", Position: coord.Point{X: 4}},
		{Connected: false, Status: "Idle"},
	}
	for _, f := range frames {
		s.ApplyStatus(f)
		assert.Equal(t, f, s.Snapshot())
	}

	// no stale fields from the first frame survive
	assert.Zero(t, s.Snapshot().FeedRate)
	assert.Zero(t, s.Snapshot().SpindleSpeed)
}

func TestStore_ApplyConnectivity(t *testing.T) {
	s := NewStore(10)
	s.ApplyStatus(Snapshot{Status: "Idle", FeedRate: 100})

	assert.True(t, s.ApplyConnectivity(true))
	assert.False(t, s.ApplyConnectivity(true))
	assert.Equal(t, Snapshot{Connected: true, Status: "Idle", FeedRate: 100}, s.Snapshot())
}

func TestStore_TranscriptCap(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.AppendTraffic(TrafficEntry{Timestamp: float64(i), Direction: Received, Payload: fmt.Sprint(i)})
		assert.LessOrEqual(t, len(s.Transcript()), 3)
	}

	tr := s.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, "2", tr[0].Payload)
	assert.Equal(t, "3", tr[1].Payload)
	assert.Equal(t, "4", tr[2].Payload)

	s.ClearTranscript()
	assert.Empty(t, s.Transcript())
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(1)
	ch, cancel := s.Subscribe()
	defer cancel()

	assert.Equal(t, InitialSnapshot(), <-ch)

	s.ApplyStatus(Snapshot{Status: "Run"})
	s.ApplyStatus(Snapshot{Status: "Idle"})
	assert.Equal(t, "Idle", (<-ch).Status, "only the latest snapshot is kept")

	cancel()
	s.ApplyStatus(Snapshot{Status: "Alarm"})
	select {
	case <-ch:
		t.Fatal("received after cancel")
	default:
	}
}

func TestStore_SubscribeTraffic(t *testing.T) {
	s := NewStore(5)
	ch, cancel := s.SubscribeTraffic(1)
	defer cancel()

	s.AppendTraffic(TrafficEntry{Payload: "a"})
	s.AppendTraffic(TrafficEntry{Payload: "b"})

	assert.Equal(t, "a", (<-ch).Payload)
	assert.Len(t, s.Transcript(), 2)
}

func TestSnapshot_Flags(t *testing.T) {
	assert.True(t, Snapshot{Status: "Alarm:1"}.Alarmed())
	assert.False(t, Snapshot{Status: "Idle"}.Idle())
	assert.True(t, Snapshot{Connected: true, Status: "Idle"}.Idle())
}
