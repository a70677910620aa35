/*
Package protocol translates wire envelopes into Coordinator calls and wraps
Coordinator events back into outbound envelopes. It is the only package that
knows the message format; everything past it works with typed values.
*/
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"textroom/internal/app/collab"
)

// Envelope types accepted from clients.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeOperation = "operation"
	TypePresence  = "presence"
)

// Envelope types produced for clients only.
const (
	// TypeAck acknowledges an accepted operation back to its author, carrying
	// the transformed operation with its assigned sequence number.
	TypeAck = "ack"

	// TypeError reports a rejected message back to its sender.
	TypeError = "error"
)

// Envelope is the wire message. Data is a tagged payload whose shape is
// determined by Type; it is decoded strictly at this boundary so malformed
// or unknown shapes never reach the Coordinator.
type Envelope struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// errorPayload is the Data shape of a TypeError envelope.
type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BuildMessage constructs an outbound envelope with the payload marshaled
// into Data. A nil payload produces a null Data field.
func BuildMessage(msgType, roomID, userID string, data any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = raw
	}

	return env, nil
}

// FromEvent converts a room broadcast event into its outbound envelope.
func FromEvent(ev collab.Event) (Envelope, error) {
	var data any
	switch ev.Type {
	case collab.EventJoin:
		data = ev.User
	case collab.EventOperation:
		data = ev.Operation
	case collab.EventPresence:
		data = ev.Presence
	case collab.EventLeave:
		// leave carries no payload.
	default:
		return Envelope{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	env, err := BuildMessage(string(ev.Type), ev.RoomID, ev.UserID, data)
	if err != nil {
		return Envelope{}, err
	}
	env.Timestamp = ev.Timestamp.UnixMilli()
	return env, nil
}

// decodeStrict unmarshals raw into v rejecting unknown fields and trailing
// content, mirroring the REST layer's request binding.
func decodeStrict(raw json.RawMessage, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return err
	}

	if decoder.More() {
		return fmt.Errorf("unexpected trailing content in payload")
	}

	return nil
}
