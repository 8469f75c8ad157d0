package bridge

import (
	"encoding/json"
	"testing"

	"github.com/mastercactapus/maslowctl/coord"
	"github.com/mastercactapus/maslowctl/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"status_update","status":{"connected":true,"status":"Idle","position":{"x":1,"y":2,"z":3},"feed_rate":500,"spindle_speed":0}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusUpdate{Status: machine.Snapshot{
		Connected: true,
		Status:    "Idle",
		Position:  coord.Point{X: 1, Y: 2, Z: 3},
		FeedRate:  500,
	}}, f)

	f, err = DecodeFrame([]byte(`{"type":"connection_status","connected":false}`))
	require.NoError(t, err)
	assert.Equal(t, ConnectionStatus{Connected: false}, f)

	f, err = DecodeFrame([]byte(`{"type":"serial_response","data":"ok","timestamp":1700000000.5}`))
	require.NoError(t, err)
	assert.Equal(t, SerialResponse{Data: "ok", Timestamp: 1700000000.5}, f)

	f, err = DecodeFrame([]byte(`{"type":"command_sent","command":"$H"}`))
	require.NoError(t, err)
	assert.Equal(t, CommandSent{Command: "$H"}, f)
	assert.Equal(t, TypeCommandSent, f.Type())

	f, err = DecodeFrame([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, Pong{}, f)
}

func TestDecodeFrame_Unrecognized(t *testing.T) {
	raw := `{"type":"firmware_update","progress":12}`
	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)

	u, ok := f.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, "firmware_update", u.Type())
	assert.JSONEq(t, raw, string(u.Raw))
}

func TestDecodeFrame_Violations(t *testing.T) {
	cases := map[string]string{
		"not json":            `hello`,
		"array":               `[1,2]`,
		"missing type":        `{"connected":true}`,
		"status without body": `{"type":"status_update"}`,
		"bad status":          `{"type":"status_update","status":"Idle"}`,
		"connected not bool":  `{"type":"connection_status","connected":"yes"}`,
		"missing connected":   `{"type":"connection_status"}`,
		"missing data":        `{"type":"serial_response"}`,
		"missing command":     `{"type":"command_sent","data":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(raw))
			assert.Nil(t, f)
			var pv *ProtocolViolation
			require.ErrorAs(t, err, &pv)
			assert.Equal(t, raw, string(pv.Raw))
		})
	}
}

func TestOutbound(t *testing.T) {
	data, err := json.Marshal(Ping)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))

	data, err = json.Marshal(RequestStatus)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"request_status"}`, string(data))
}
