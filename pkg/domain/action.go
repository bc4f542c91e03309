package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ActionKind names a realtime protocol action.
type ActionKind string

// Room actions, delivered by the server and applied to a Room.
const (
	ActionJoin     ActionKind = "join"
	ActionOffline  ActionKind = "offline"
	ActionOnline   ActionKind = "online"
	ActionLeave    ActionKind = "leave"
	ActionRename   ActionKind = "rename"
	ActionSubmit   ActionKind = "submit"
	ActionReveal   ActionKind = "reveal"
	ActionReset    ActionKind = "reset"
	ActionTransfer ActionKind = "transfer"
)

// Control actions used for liveness; never applied to a Room.
const (
	ActionPing ActionKind = "ping"
	ActionPong ActionKind = "pong"
)

var roomActions = map[ActionKind]bool{
	ActionJoin:     true,
	ActionOffline:  true,
	ActionOnline:   true,
	ActionLeave:    true,
	ActionRename:   true,
	ActionSubmit:   true,
	ActionReveal:   true,
	ActionReset:    true,
	ActionTransfer: true,
}

// ParseActionKind returns the ActionKind for s if it is a known room or
// control action.
func ParseActionKind(s string) (ActionKind, bool) {
	k := ActionKind(s)
	if k.IsRoomAction() || k.IsControl() {
		return k, true
	}
	return "", false
}

// IsRoomAction reports whether k mutates room state.
func (k ActionKind) IsRoomAction() bool {
	return roomActions[k]
}

// IsControl reports whether k is a liveness ping or its echo.
func (k ActionKind) IsControl() bool {
	return k == ActionPing || k == ActionPong
}

// Message is the wire unit of the realtime protocol.
type Message struct {
	Action  ActionKind      `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage encodes payload into a Message.
func NewMessage(action ActionKind, payload any) (Message, error) {
	msg := Message{Action: action}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", action, err)
	}
	msg.Payload = data
	return msg, nil
}

// DecodeFrame parses one transport frame. The server may coalesce several
// newline-separated records into a single frame.
func DecodeFrame(frame []byte) ([]Message, error) {
	var msgs []Message
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return msgs, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if m.Action == "" {
			return msgs, fmt.Errorf("%w: missing action", ErrMalformedFrame)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Protocol faults.
var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownAction    = errors.New("unrecognized action")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Outbound payloads.

// UserPayload identifies the sender; used by reveal, reset, leave and ping.
type UserPayload struct {
	UserID string `json:"userId"`
}

// SubmitPayload casts (or, with an empty Vote, withdraws) a vote.
type SubmitPayload struct {
	UserID string `json:"userId"`
	Vote   string `json:"vote"`
}

// TransferPayload hands moderator rights to another participant.
type TransferPayload struct {
	UserID           string `json:"userId"`
	NewScrumMasterID string `json:"newScrumMasterId"`
}

// RenamePayload changes the sender's display name.
type RenamePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Event is a decoded inbound room action. The set of implementations is
// closed; see DecodeEvent.
type Event interface {
	Kind() ActionKind
	event()
}

// JoinEvent inserts or replaces a participant.
type JoinEvent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsOnline bool   `json:"isOnline"`
}

// UnmarshalJSON reads the same presence fields as Participant, so a joined
// user serialized by the server (is_active) arrives online.
func (e *JoinEvent) UnmarshalJSON(data []byte) error {
	var p Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = JoinEvent(p)
	return nil
}

// OfflineEvent marks a participant offline.
type OfflineEvent struct {
	UserID string `json:"userId"`
}

// OnlineEvent marks a participant online.
type OnlineEvent struct {
	UserID string `json:"userId"`
}

// LeaveEvent removes a participant.
type LeaveEvent struct {
	UserID string `json:"userId"`
}

// RenameEvent changes a participant's name.
type RenameEvent struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// SubmitEvent records a participant's vote; an empty Vote clears it.
type SubmitEvent struct {
	UserID string `json:"userId"`
	Vote   string `json:"vote"`
}

// RevealEvent replaces all votes and reveals them.
type RevealEvent struct {
	Votes map[string]string `json:"votes"`
}

// ResetEvent starts a new round.
type ResetEvent struct{}

// TransferEvent moves moderator rights.
type TransferEvent struct {
	NewScrumMasterID string `json:"newScrumMasterId"`
}

func (JoinEvent) Kind() ActionKind     { return ActionJoin }
func (OfflineEvent) Kind() ActionKind  { return ActionOffline }
func (OnlineEvent) Kind() ActionKind   { return ActionOnline }
func (LeaveEvent) Kind() ActionKind    { return ActionLeave }
func (RenameEvent) Kind() ActionKind   { return ActionRename }
func (SubmitEvent) Kind() ActionKind   { return ActionSubmit }
func (RevealEvent) Kind() ActionKind   { return ActionReveal }
func (ResetEvent) Kind() ActionKind    { return ActionReset }
func (TransferEvent) Kind() ActionKind { return ActionTransfer }

func (JoinEvent) event()     {}
func (OfflineEvent) event()  {}
func (OnlineEvent) event()   {}
func (LeaveEvent) event()    {}
func (RenameEvent) event()   {}
func (SubmitEvent) event()   {}
func (RevealEvent) event()   {}
func (ResetEvent) event()    {}
func (TransferEvent) event() {}

// DecodeEvent turns a Message into its typed Event.
func DecodeEvent(msg Message) (Event, error) {
	switch msg.Action {
	case ActionJoin:
		return decodePayload[JoinEvent](msg)
	case ActionOffline:
		return decodePayload[OfflineEvent](msg)
	case ActionOnline:
		return decodePayload[OnlineEvent](msg)
	case ActionLeave:
		return decodePayload[LeaveEvent](msg)
	case ActionRename:
		return decodePayload[RenameEvent](msg)
	case ActionSubmit:
		return decodePayload[SubmitEvent](msg)
	case ActionReveal:
		ev, err := decodePayload[RevealEvent](msg)
		if err != nil {
			return nil, err
		}
		if ev.Votes == nil {
			ev.Votes = map[string]string{}
		}
		return ev, nil
	case ActionReset:
		return ResetEvent{}, nil
	case ActionTransfer:
		return decodePayload[TransferEvent](msg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
}

func decodePayload[T Event](msg Message) (T, error) {
	var ev T
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return ev, fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, msg.Action)
	}
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msg.Action, err)
	}
	return ev, nil
}
