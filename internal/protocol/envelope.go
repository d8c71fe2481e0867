// Package protocol defines the JSON envelope exchanged over the chat
// websocket and the helpers that build and parse frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Kind identifies the payload carried by an Envelope.
type Kind string

const (
	// KindUsers carries the current roster in DataArray. Server to client only.
	KindUsers Kind = "users"
	// KindRegister carries the requested display name in Data. Client to server only.
	KindRegister Kind = "register"
	// KindMessage carries a plaintext body (client to server) or an encoded
	// ChatMessage (server to client) in Data.
	KindMessage Kind = "message"
)

var (
	// ErrNotEnvelope is returned by Decode when the frame is not a JSON object.
	ErrNotEnvelope = errors.New("frame is not a JSON envelope")
	// ErrUnknownKind is returned by Decode when messageType is missing or unknown.
	ErrUnknownKind = errors.New("unknown envelope kind")
)

// Envelope is the outer wire unit of every frame.
type Envelope struct {
	Kind      Kind     `json:"messageType"`
	Data      string   `json:"data,omitempty"`
	DataArray []string `json:"dataArray,omitzero"`
}

// ChatMessage is the payload of a server-originated message envelope.
type ChatMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
	Time    uint64 `json:"time"`
}

// Valid reports whether k is one of the known envelope kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUsers, KindRegister, KindMessage:
		return true
	default:
		return false
	}
}

// Decode parses a text frame into an Envelope. Any error means the frame
// should be handled as free-form text.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, ErrNotEnvelope
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, errors.Wrap(ErrNotEnvelope, err.Error())
	}
	if !env.Kind.Valid() {
		return Envelope{}, errors.Wrapf(ErrUnknownKind, "messageType %q", env.Kind)
	}
	return env, nil
}

// DecodeChat extracts the ChatMessage from a message envelope.
func DecodeChat(env Envelope) (ChatMessage, error) {
	var msg ChatMessage
	if env.Kind != KindMessage {
		return msg, errors.Errorf("envelope kind %q does not carry a chat message", env.Kind)
	}
	if err := json.Unmarshal([]byte(env.Data), &msg); err != nil {
		return ChatMessage{}, errors.Wrap(err, "decode chat message")
	}
	return msg, nil
}

// Encode serializes an envelope into a text frame.
func Encode(env Envelope) ([]byte, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s envelope", env.Kind)
	}
	return frame, nil
}

// UsersFrame builds a users envelope for the given roster. An empty roster
// still produces a dataArray field.
func UsersFrame(roster []string) ([]byte, error) {
	names := roster
	if names == nil {
		names = []string{}
	}
	return Encode(Envelope{Kind: KindUsers, DataArray: names})
}

// ChatFrame wraps msg into a message envelope.
func ChatFrame(msg ChatMessage) ([]byte, error) {
	inner, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "encode chat message")
	}
	return Encode(Envelope{Kind: KindMessage, Data: string(inner)})
}

// RegisterFrame builds the client request to take a display name.
func RegisterFrame(name string) ([]byte, error) {
	return Encode(Envelope{Kind: KindRegister, Data: name})
}

// MessageFrame builds the client request to send a plaintext body.
func MessageFrame(body string) ([]byte, error) {
	return Encode(Envelope{Kind: KindMessage, Data: body})
}

// Millis converts t to the epoch-millisecond timestamp used on the wire.
func Millis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// Time converts a wire timestamp back into a time.Time.
func Time(ms uint64) time.Time {
	return time.UnixMilli(int64(ms))
}
