package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/mastercactapus/maslowctl/machine"
)

// Inbound frame types.
const (
	TypeStatusUpdate     = "status_update"
	TypeConnectionStatus = "connection_status"
	TypeSerialResponse   = "serial_response"
	TypeCommandSent      = "command_sent"
	TypePong             = "pong"
)

// Outbound frame types.
const (
	TypePing          = "ping"
	TypeRequestStatus = "request_status"
)

// A Frame is one decoded inbound message. The set of implementations is
// closed: StatusUpdate, ConnectionStatus, SerialResponse, CommandSent,
// Pong and Unrecognized.
type Frame interface {
	Type() string
	isFrame()
}

// StatusUpdate carries a full machine status record.
type StatusUpdate struct {
	Status machine.Snapshot
}

// ConnectionStatus reports whether the bridge holds the serial link to the controller.
type ConnectionStatus struct {
	Connected bool
}

// SerialResponse is a line received from the controller.
type SerialResponse struct {
	Data string
	// Timestamp is seconds since the epoch, zero if the bridge did not send one.
	Timestamp float64
}

// CommandSent is a line the bridge wrote to the controller.
type CommandSent struct {
	Command   string
	Timestamp float64
}

// Pong answers a ping.
type Pong struct{}

// Unrecognized is a well-formed frame of a type this client does not know.
type Unrecognized struct {
	Kind string
	Raw  json.RawMessage
}

func (StatusUpdate) Type() string     { return TypeStatusUpdate }
func (ConnectionStatus) Type() string { return TypeConnectionStatus }
func (SerialResponse) Type() string   { return TypeSerialResponse }
func (CommandSent) Type() string      { return TypeCommandSent }
func (Pong) Type() string             { return TypePong }
func (u Unrecognized) Type() string   { return u.Kind }

func (StatusUpdate) isFrame()     {}
func (ConnectionStatus) isFrame() {}
func (SerialResponse) isFrame()   {}
func (CommandSent) isFrame()      {}
func (Pong) isFrame()             {}
func (Unrecognized) isFrame()     {}

// ProtocolViolation is returned by DecodeFrame for malformed input.
type ProtocolViolation struct {
	Reason string
	Raw    []byte
	Err    error
}

func (p *ProtocolViolation) Error() string {
	if p.Err != nil {
		return "protocol violation: " + p.Reason + ": " + p.Err.Error()
	}
	return "protocol violation: " + p.Reason
}

func (p *ProtocolViolation) Unwrap() error { return p.Err }

func violation(data []byte, err error, format string, args ...interface{}) *ProtocolViolation {
	return &ProtocolViolation{
		Reason: fmt.Sprintf(format, args...),
		Raw:    append([]byte(nil), data...),
		Err:    err,
	}
}

// DecodeFrame decodes one inbound frame by its type discriminator.
//
// Frames of unknown type decode to Unrecognized. A frame that is not a JSON
// object, has no type, or whose payload does not fit its type is a
// *ProtocolViolation.
func DecodeFrame(data []byte) (Frame, error) {
	var head struct {
		Type *string `json:"type"`
	}
	err := json.Unmarshal(data, &head)
	if err != nil {
		return nil, violation(data, err, "invalid json")
	}
	if head.Type == nil {
		return nil, violation(data, nil, "missing type")
	}

	switch *head.Type {
	case TypeStatusUpdate:
		var body struct {
			Status *machine.Snapshot `json:"status"`
		}
		if err = json.Unmarshal(data, &body); err != nil {
			return nil, violation(data, err, "decode %s", *head.Type)
		}
		if body.Status == nil {
			return nil, violation(data, nil, "%s without status", *head.Type)
		}
		return StatusUpdate{Status: *body.Status}, nil
	case TypeConnectionStatus:
		var body struct {
			Connected *bool `json:"connected"`
		}
		if err = json.Unmarshal(data, &body); err != nil {
			return nil, violation(data, err, "decode %s", *head.Type)
		}
		if body.Connected == nil {
			return nil, violation(data, nil, "%s without connected", *head.Type)
		}
		return ConnectionStatus{Connected: *body.Connected}, nil
	case TypeSerialResponse:
		var body struct {
			Data      *string `json:"data"`
			Timestamp float64 `json:"timestamp"`
		}
		if err = json.Unmarshal(data, &body); err != nil {
			return nil, violation(data, err, "decode %s", *head.Type)
		}
		if body.Data == nil {
			return nil, violation(data, nil, "%s without data", *head.Type)
		}
		return SerialResponse{Data: *body.Data, Timestamp: body.Timestamp}, nil
	case TypeCommandSent:
		var body struct {
			Command   *string `json:"command"`
			Timestamp float64 `json:"timestamp"`
		}
		if err = json.Unmarshal(data, &body); err != nil {
			return nil, violation(data, err, "decode %s", *head.Type)
		}
		if body.Command == nil {
			return nil, violation(data, nil, "%s without command", *head.Type)
		}
		return CommandSent{Command: *body.Command, Timestamp: body.Timestamp}, nil
	case TypePong:
		return Pong{}, nil
	}

	return Unrecognized{Kind: *head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Outbound is a frame sent to the bridge.
type Outbound struct {
	Type string `json:"type"`
}

var (
	// Ping is the liveness probe.
	Ping = Outbound{Type: TypePing}
	// RequestStatus asks the bridge to push a full status_update.
	RequestStatus = Outbound{Type: TypeRequestStatus}
)
