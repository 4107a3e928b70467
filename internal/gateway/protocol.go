// Package gateway terminates client websocket connections, decodes their
// commands, hands them to the group coordinator and routes outbound events to
// local connections and, through the fan-out channel, to other processes.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mindspace/group-meditation/internal/core/domain"
)

// Inbound command types.
const (
	TypeJoinGroup       = "join_group"
	TypeLeaveGroup      = "leave_group"
	TypeStartMeditation = "start_meditation"
	TypeEndMeditation   = "end_meditation"
	TypePing            = "ping"
)

// ErrInvalidMessage is returned for frames that are not a well-formed command.
var ErrInvalidMessage = errors.New("invalid message")

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is one of JoinGroup, LeaveGroup, StartMeditation, EndMeditation or
// Ping. The set is closed: only this package can add variants.
type Command interface {
	commandType() string
}

type JoinGroup struct {
	GroupID string `json:"groupId" validate:"required,max=128"`
}

type LeaveGroup struct {
	GroupID string `json:"groupId" validate:"required,max=128"`
}

type StartMeditation struct {
	GroupID  string `json:"groupId" validate:"max=128"`
	Type     string `json:"type" validate:"required,oneof=guided unguided sleep"`
	Duration int    `json:"duration" validate:"min=1,max=120"`
}

// EndMeditation uses pointers so a missing field is told apart from a zero value.
type EndMeditation struct {
	SessionID      string `json:"sessionId" validate:"required"`
	ActualDuration *int   `json:"actualDuration" validate:"required,min=0,max=1440"`
	Completed      *bool  `json:"completed" validate:"required"`
}

type Ping struct{}

func (JoinGroup) commandType() string       { return TypeJoinGroup }
func (LeaveGroup) commandType() string      { return TypeLeaveGroup }
func (StartMeditation) commandType() string { return TypeStartMeditation }
func (EndMeditation) commandType() string   { return TypeEndMeditation }
func (Ping) commandType() string            { return TypePing }

// CommandType returns the wire name of cmd.
func CommandType(cmd Command) string {
	return cmd.commandType()
}

// DecodeCommand parses one inbound frame. It returns the frame type alongside
// the error so callers can label failures.
func DecodeCommand(raw []byte) (Command, string, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var (
		cmd Command
		err error
	)
	switch f.Type {
	case TypeJoinGroup:
		var gid string
		gid, err = decodeGroupID(f.Data)
		cmd = JoinGroup{GroupID: gid}
	case TypeLeaveGroup:
		var gid string
		gid, err = decodeGroupID(f.Data)
		cmd = LeaveGroup{GroupID: gid}
	case TypeStartMeditation:
		var c StartMeditation
		err = decodeData(f.Data, &c)
		cmd = c
	case TypeEndMeditation:
		var c EndMeditation
		err = decodeData(f.Data, &c)
		cmd = c
	case TypePing:
		cmd = Ping{}
	case "":
		return nil, "", fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return nil, f.Type, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, f.Type)
	}
	if err != nil {
		return nil, f.Type, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return cmd, f.Type, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}

// decodeGroupID accepts {"groupId": "..."} as well as a bare JSON string.
func decodeGroupID(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var gid string
		err := json.Unmarshal(data, &gid)
		return gid, err
	}
	var body struct {
		GroupID string `json:"groupId"`
	}
	if err := decodeData(data, &body); err != nil {
		return "", err
	}
	return body.GroupID, nil
}

// EncodeEvent renders ev as an outbound frame.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(Frame{Type: string(ev.Name()), Data: data})
}
