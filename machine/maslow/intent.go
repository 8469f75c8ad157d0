package maslow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/mastercactapus/maslowctl/coord"
	"github.com/mastercactapus/maslowctl/gcode"
)

// Kind identifies an operator intent.
type Kind int

const (
	KindRawCommand Kind = iota
	KindJog
	KindHomeAll
	KindHomeXY
	KindHomeZ
	KindSetOriginXY
	KindSetOriginZ
	KindEmergencyStop
	KindUnlock
	KindMaslowAction
	KindConnect
	KindDisconnect
	KindRestart
	KindReadStatus
	KindReadConfig
	KindWriteConfig
	KindReadPreferences
	KindListFiles
	KindUploadFile
)

// Readiness is the precondition an intent needs before it is sent.
type Readiness int

const (
	// RequireConnected intents need Snapshot.Connected.
	RequireConnected Readiness = iota
	// AlwaysPermitted intents are sent regardless of connectivity.
	AlwaysPermitted
	// Independent intents do not involve the controller.
	Independent
)

// Resources used for one-in-flight gating. Intents with no resource are never gated.
const (
	ResourceMotion = "motion"
	ResourceConfig = "config"
	ResourceLink   = "link"
	ResourceFiles  = "files"
)

type endpoint struct {
	name      string
	label     string
	method    string
	path      string
	readiness Readiness
	resource  string
}

var endpoints = map[Kind]endpoint{
	KindConnect:         {"connect", "Connection", http.MethodPost, "/connect", Independent, ResourceLink},
	KindDisconnect:      {"disconnect", "Disconnect", http.MethodPost, "/disconnect", Independent, ResourceLink},
	KindReadStatus:      {"status", "Status", http.MethodGet, "/status", Independent, ""},
	KindRawCommand:      {"command", "Command", http.MethodPost, "/command", RequireConnected, ResourceMotion},
	KindJog:             {"jog", "Jog", http.MethodPost, "/jog", RequireConnected, ResourceMotion},
	KindHomeAll:         {"home", "ALL Home", http.MethodPost, "/home", RequireConnected, ResourceMotion},
	KindHomeXY:          {"home_xy", "XY Home", http.MethodPost, "/home/xy", RequireConnected, ResourceMotion},
	KindHomeZ:           {"home_z", "Z Home", http.MethodPost, "/home/z", RequireConnected, ResourceMotion},
	KindSetOriginXY:     {"set_origin_xy", "Set XY Origin", http.MethodPost, "/set_origin/xy", RequireConnected, ResourceMotion},
	KindSetOriginZ:      {"set_origin_z", "Set Z Origin", http.MethodPost, "/set_origin/z", RequireConnected, ResourceMotion},
	KindRestart:         {"restart", "Restart", http.MethodPost, "/restart", RequireConnected, ResourceMotion},
	KindUnlock:          {"unlock", "unlock", http.MethodPost, "/unlock", AlwaysPermitted, ""},
	KindEmergencyStop:   {"stop", "stop", http.MethodPost, "/stop", AlwaysPermitted, ""},
	KindMaslowAction:    {"maslow", "", http.MethodPost, "/maslow/", RequireConnected, ResourceMotion},
	KindReadConfig:      {"config_get", "Config read", http.MethodGet, "/config/maslow", Independent, ""},
	KindWriteConfig:     {"config_set", "Config update", http.MethodPost, "/config/maslow", Independent, ResourceConfig},
	KindReadPreferences: {"preferences", "Preferences read", http.MethodGet, "/config/preferences", Independent, ""},
	KindListFiles:       {"files", "File list", http.MethodGet, "/files", Independent, ""},
	KindUploadFile:      {"upload", "Upload", http.MethodPost, "/files/upload", Independent, ResourceFiles},
}

func (k Kind) String() string {
	if ep, ok := endpoints[k]; ok {
		return ep.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Maslow-specific actions accepted by Action.
const (
	ActionRetractAll     = "retract_all"
	ActionExtendAll      = "extend_all"
	ActionApplyTension   = "apply_tension"
	ActionReleaseTension = "release_tension"
	ActionFindAnchors    = "find_anchors"
	ActionTest           = "test"
	ActionSetZStop       = "set_z_stop"
)

var actions = map[string]bool{
	ActionRetractAll:     true,
	ActionExtendAll:      true,
	ActionApplyTension:   true,
	ActionReleaseTension: true,
	ActionFindAnchors:    true,
	ActionTest:           true,
	ActionSetZStop:       true,
}

// Actions returns the known Maslow action names, sorted.
func Actions() []string {
	res := make([]string, 0, len(actions))
	for name := range actions {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Raw commands allowed while the machine is not connected: unlock and feed hold.
var overrideCommands = map[string]bool{
	"$X": true,
	"!":  true,
}

// DefaultWaitTime is how long the bridge collects responses to a raw command, in seconds.
const DefaultWaitTime = 2.0

// DefaultJogFeedRate is used when a jog has no feed rate.
const DefaultJogFeedRate = 1000

// Intent is one operator request, built with the constructors below.
type Intent struct {
	Kind Kind

	// KindRawCommand
	Command  string
	WaitTime float64

	// KindJog
	Axis     byte
	Distance float64
	FeedRate float64

	// KindMaslowAction
	Action string

	// KindWriteConfig
	Config map[string]interface{}

	// KindUploadFile
	FileName string
	FileData []byte
}

func Raw(command string) Intent {
	return Intent{Kind: KindRawCommand, Command: command, WaitTime: DefaultWaitTime}
}

// Jog moves one axis by distance (relative) at feedRate.
func Jog(axis byte, distance, feedRate float64) Intent {
	if axis >= 'a' && axis <= 'z' {
		axis -= 'a' - 'A'
	}
	if feedRate <= 0 {
		feedRate = DefaultJogFeedRate
	}
	return Intent{Kind: KindJog, Axis: axis, Distance: distance, FeedRate: feedRate}
}

func HomeAll() Intent { return Intent{Kind: KindHomeAll} }
func HomeXY() Intent { return Intent{Kind: KindHomeXY} }
func HomeZ() Intent { return Intent{Kind: KindHomeZ} }
func SetOriginXY() Intent { return Intent{Kind: KindSetOriginXY} }
func SetOriginZ() Intent { return Intent{Kind: KindSetOriginZ} }
func EmergencyStop() Intent { return Intent{Kind: KindEmergencyStop} }
func Unlock() Intent { return Intent{Kind: KindUnlock} }
func Restart() Intent { return Intent{Kind: KindRestart} }
func Connect() Intent { return Intent{Kind: KindConnect} }
func Disconnect() Intent { return Intent{Kind: KindDisconnect} }
func ReadStatus() Intent { return Intent{Kind: KindReadStatus} }
func ReadConfig() Intent { return Intent{Kind: KindReadConfig} }
func ReadPreferences() Intent { return Intent{Kind: KindReadPreferences} }
func ListFiles() Intent { return Intent{Kind: KindListFiles} }
func WriteConfig(cfg map[string]interface{}) Intent { return Intent{Kind: KindWriteConfig, Config: cfg} }

// UploadFile stores a G-code program on the bridge under name.
func UploadFile(name string, data []byte) Intent {
	return Intent{Kind: KindUploadFile, FileName: name, FileData: data}
}

// ProgramExtensions are the file extensions the bridge accepts for upload.
var ProgramExtensions = []string{".gcode", ".nc", ".ngc"}

// Action runs a named Maslow action.
func Action(name string) Intent { return Intent{Kind: KindMaslowAction, Action: name} }

// ParseAction maps an action name from the sidebar vocabulary to an
// Intent. "stop" and "unlock" map to EmergencyStop and Unlock.
func ParseAction(name string) (Intent, error) {
	switch name {
	case "stop":
		return EmergencyStop(), nil
	case "unlock":
		return Unlock(), nil
	}
	if !actions[name] {
		return Intent{}, fmt.Errorf("unknown command: %s", name)
	}
	return Action(name), nil
}

func (in Intent) endpoint() endpoint {
	ep := endpoints[in.Kind]
	if in.Kind == KindMaslowAction {
		ep.path += in.Action
		ep.label = in.Action
	}
	if in.Kind == KindRawCommand && overrideCommands[strings.TrimSpace(in.Command)] {
		ep.readiness = AlwaysPermitted
		ep.resource = ""
	}
	return ep
}

// Readiness returns the precondition for in.
func (in Intent) Readiness() Readiness { return in.endpoint().readiness }

// Resource returns the in-flight gate for in, or "" if it is never gated.
func (in Intent) Resource() string { return in.endpoint().resource }

// Label names the intent in operator-facing messages.
func (in Intent) Label() string { return in.endpoint().label }

// Method and Path give the bridge endpoint, relative to the /api prefix.
func (in Intent) Method() string { return in.endpoint().method }
func (in Intent) Path() string   { return in.endpoint().path }

// Validate checks in before any request is made.
func (in Intent) Validate() error {
	if _, ok := endpoints[in.Kind]; !ok {
		return fmt.Errorf("unknown intent kind %d", int(in.Kind))
	}
	switch in.Kind {
	case KindRawCommand:
		if strings.TrimSpace(in.Command) == "" {
			return errors.New("empty command")
		}
		if in.WaitTime < 0 {
			return errors.New("negative wait time")
		}
	case KindJog:
		if !(gcode.Word{W: in.Axis}).IsAxis() {
			return fmt.Errorf("invalid jog axis '%c'", in.Axis)
		}
		if in.Distance == 0 {
			return errors.New("zero jog distance")
		}
		if in.FeedRate < 1 {
			return fmt.Errorf("jog feed rate %g below 1 mm/min", in.FeedRate)
		}
	case KindMaslowAction:
		if !actions[in.Action] {
			return fmt.Errorf("unknown command: %s", in.Action)
		}
	case KindWriteConfig:
		if in.Config == nil {
			return errors.New("missing config")
		}
	case KindUploadFile:
		if in.FileName == "" || in.FileName != path.Base(in.FileName) {
			return fmt.Errorf("invalid file name '%s'", in.FileName)
		}
		ext := strings.ToLower(path.Ext(in.FileName))
		for _, e := range ProgramExtensions {
			if ext == e {
				return nil
			}
		}
		return errors.New("invalid file type")
	}
	return nil
}

type rawBody struct {
	Command  string  `json:"command"`
	WaitTime float64 `json:"wait_time"`
}

type jogBody struct {
	Axis     string  `json:"axis"`
	Distance float64 `json:"distance"`
	FeedRate int     `json:"feed_rate"`
}

type configBody struct {
	Config map[string]interface{} `json:"config"`
}

// encode returns the request body and its content type. A nil reader means no body.
func (in Intent) encode() (io.Reader, string, error) {
	if in.Kind == KindUploadFile {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		fw, err := w.CreateFormFile("file", in.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err = fw.Write(in.FileData); err != nil {
			return nil, "", err
		}
		if err = w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	v := in.body()
	if v == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

// body returns the JSON request body, or nil for none.
func (in Intent) body() interface{} {
	switch in.Kind {
	case KindRawCommand:
		return rawBody{Command: strings.TrimSpace(in.Command), WaitTime: in.WaitTime}
	case KindJog:
		return jogBody{Axis: string(in.Axis), Distance: in.Distance, FeedRate: int(math.Round(in.FeedRate))}
	case KindWriteConfig:
		return configBody{Config: in.Config}
	}
	return nil
}

// GCode returns the controller line the bridge runs for in, when it is a
// single G-code block.
func (in Intent) GCode() (gcode.Block, bool) {
	switch in.Kind {
	case KindJog:
		return gcode.Block{
			{W: 'G', Arg: 91},
			{W: 'G', Arg: 0},
			{W: in.Axis, Arg: in.Distance},
			{W: 'F', Arg: in.FeedRate},
		}, true
	case KindSetOriginXY:
		return gcode.Block{
			{W: 'G', Arg: 10},
			{W: 'L', Arg: 20},
			{W: 'P', Arg: 1},
			{W: 'X', Arg: 0},
			{W: 'Y', Arg: 0},
		}, true
	case KindSetOriginZ:
		return gcode.Block{
			{W: 'G', Arg: 10},
			{W: 'L', Arg: 20},
			{W: 'P', Arg: 1},
			{W: 'Z', Arg: 0},
		}, true
	}
	return nil, false
}

// Target returns where a jog started at pos ends up.
func (in Intent) Target(pos coord.Point) (coord.Point, bool) {
	blk, ok := in.GCode()
	if !ok || in.Kind != KindJog || !blk.HasMotion() {
		return pos, false
	}
	var off coord.Point
	_, off.X = blk.Arg('X')
	_, off.Y = blk.Arg('Y')
	_, off.Z = blk.Arg('Z')
	return pos.Add(off), true
}
