package maslow

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/maslowctl/coord"
)

func TestIntent_Endpoints(t *testing.T) {
	data := []struct {
		in        Intent
		method    string
		path      string
		readiness Readiness
		resource  string
	}{
		{Connect(), http.MethodPost, "/connect", Independent, ResourceLink},
		{Disconnect(), http.MethodPost, "/disconnect", Independent, ResourceLink},
		{ReadStatus(), http.MethodGet, "/status", Independent, ""},
		{Raw("G0 X1"), http.MethodPost, "/command", RequireConnected, ResourceMotion},
		{Raw("$X"), http.MethodPost, "/command", AlwaysPermitted, ""},
		{Raw(" ! "), http.MethodPost, "/command", AlwaysPermitted, ""},
		{Jog('X', 10, 0), http.MethodPost, "/jog", RequireConnected, ResourceMotion},
		{HomeAll(), http.MethodPost, "/home", RequireConnected, ResourceMotion},
		{HomeXY(), http.MethodPost, "/home/xy", RequireConnected, ResourceMotion},
		{HomeZ(), http.MethodPost, "/home/z", RequireConnected, ResourceMotion},
		{SetOriginXY(), http.MethodPost, "/set_origin/xy", RequireConnected, ResourceMotion},
		{SetOriginZ(), http.MethodPost, "/set_origin/z", RequireConnected, ResourceMotion},
		{Restart(), http.MethodPost, "/restart", RequireConnected, ResourceMotion},
		{Unlock(), http.MethodPost, "/unlock", AlwaysPermitted, ""},
		{EmergencyStop(), http.MethodPost, "/stop", AlwaysPermitted, ""},
		{Action(ActionApplyTension), http.MethodPost, "/maslow/apply_tension", RequireConnected, ResourceMotion},
		{ReadConfig(), http.MethodGet, "/config/maslow", Independent, ""},
		{WriteConfig(map[string]interface{}{}), http.MethodPost, "/config/maslow", Independent, ResourceConfig},
		{ReadPreferences(), http.MethodGet, "/config/preferences", Independent, ""},
	}

	for _, d := range data {
		t.Run(d.in.Kind.String()+d.path, func(t *testing.T) {
			assert.NoError(t, d.in.Validate())
			assert.Equal(t, d.method, d.in.Method())
			assert.Equal(t, d.path, d.in.Path())
			assert.Equal(t, d.readiness, d.in.Readiness())
			assert.Equal(t, d.resource, d.in.Resource())
		})
	}
}

func TestIntent_Validate(t *testing.T) {
	assert.Error(t, Raw("  ").Validate())
	assert.Error(t, Jog('A', 1, 100).Validate())
	assert.Error(t, Jog('X', 0, 100).Validate())
	assert.Error(t, Action("dance").Validate())
	assert.Error(t, WriteConfig(nil).Validate())
	assert.Error(t, Intent{Kind: Kind(99)}.Validate())
	assert.Error(t, Jog('X', 1, 0.5).Validate())
	assert.Error(t, Intent{Kind: KindJog, Axis: 'X', Distance: 1, FeedRate: -10}.Validate())
	assert.NoError(t, Jog('z', -0.5, 200).Validate())
	assert.NoError(t, Jog('X', 1, 1).Validate())
}

func TestIntent_Jog(t *testing.T) {
	in := Jog('y', 5, 0)
	assert.Equal(t, byte('Y'), in.Axis)
	assert.Equal(t, float64(DefaultJogFeedRate), in.FeedRate)
	assert.Equal(t, jogBody{Axis: "Y", Distance: 5, FeedRate: 1000}, in.body())

	blk, ok := in.GCode()
	require.True(t, ok)
	assert.Equal(t, "G91 G0 Y5 F1000", blk.String())
}

func TestIntent_GCode(t *testing.T) {
	blk, ok := SetOriginXY().GCode()
	require.True(t, ok)
	assert.Equal(t, "G10 L20 P1 X0 Y0", blk.String())

	blk, ok = SetOriginZ().GCode()
	require.True(t, ok)
	assert.Equal(t, "G10 L20 P1 Z0", blk.String())

	_, ok = HomeAll().GCode()
	assert.False(t, ok)
}

func TestIntent_Target(t *testing.T) {
	pos := coord.Point{X: 10, Y: 20, Z: -1}

	target, ok := Jog('y', -5, 0).Target(pos)
	assert.True(t, ok)
	assert.Equal(t, coord.Point{X: 10, Y: 15, Z: -1}, target)

	target, ok = Jog('Z', 2.5, 0).Target(pos)
	assert.True(t, ok)
	assert.Equal(t, coord.Point{X: 10, Y: 20, Z: 1.5}, target)

	_, ok = SetOriginXY().Target(pos)
	assert.False(t, ok)
	_, ok = HomeAll().Target(pos)
	assert.False(t, ok)
}

func TestIntent_Body(t *testing.T) {
	assert.Equal(t, jogBody{Axis: "X", Distance: 1, FeedRate: 1500}, Jog('X', 1, 1499.6).body())
	assert.Equal(t, rawBody{Command: "$H", WaitTime: DefaultWaitTime}, Raw(" $H ").body())
	cfg := map[string]interface{}{"Maslow_tlX": -27.6}
	assert.Equal(t, configBody{Config: cfg}, WriteConfig(cfg).body())
	assert.Nil(t, HomeAll().body())
}

func TestParseAction(t *testing.T) {
	in, err := ParseAction("stop")
	require.NoError(t, err)
	assert.Equal(t, KindEmergencyStop, in.Kind)

	in, err = ParseAction("unlock")
	require.NoError(t, err)
	assert.Equal(t, KindUnlock, in.Kind)

	in, err = ParseAction(ActionRetractAll)
	require.NoError(t, err)
	assert.Equal(t, Action(ActionRetractAll), in)
	assert.Equal(t, "retract_all", in.Label())

	_, err = ParseAction("dance")
	assert.EqualError(t, err, "unknown command: dance")

	assert.Len(t, Actions(), 7)
}

func TestIntent_Upload(t *testing.T) {
	in := UploadFile("Part.NGC", []byte("G0 X1"))
	require.NoError(t, in.Validate())
	assert.Equal(t, "/files/upload", in.Path())
	assert.Equal(t, ResourceFiles, in.Resource())

	body, ctype, err := in.encode()
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Contains(t, ctype, "multipart/form-data")

	_, ctype, err = ListFiles().encode()
	require.NoError(t, err)
	assert.Empty(t, ctype)
}
