package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/pkg/errors"
)

// MessageType tags a signaling message.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeUserJoined   MessageType = "user-joined"
	TypeUserLeft     MessageType = "user-left"
	TypeUserID       MessageType = "user-id"

	// TypeJoin only travels client -> relay.
	TypeJoin MessageType = "join"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeUserJoined, TypeUserLeft, TypeUserID, TypeJoin:
		return true
	}
	return false
}

// Relayable reports whether a client may ask the relay to fan t out.
// user-id and user-left are produced by the relay only.
func (t MessageType) Relayable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeUserJoined:
		return true
	}
	return false
}

// Message is the envelope exchanged over both transports. Payload is opaque
// to the relay and forwarded verbatim.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	From      string          `json:"from,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Peers     []string        `json:"peers,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Processed bool            `json:"processed,omitempty"`
}

// Time returns Timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Clone returns a copy safe to stamp without touching m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Peers != nil {
		c.Peers = append([]string(nil), m.Peers...)
	}
	return &c
}

// New builds a message, marshalling payload unless it is nil or already raw.
func New(t MessageType, payload interface{}) (*Message, error) {
	msg := &Message{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return msg, nil
	}
	switch p := payload.(type) {
	case json.RawMessage:
		msg.Payload = p
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Protocol(err, fmt.Sprintf("encode %s payload", t))
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Decode parses a frame into a Message. Unknown types and missing type are
// protocol errors.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Protocol(err, "malformed message")
	}
	if msg.Type == "" {
		return nil, errors.NewAppError(errors.ErrCodeProtocol, "message has no type")
	}
	if !msg.Type.Valid() {
		return nil, errors.NewAppErrorf(errors.ErrCodeProtocol, "unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// Encode marshals msg for the wire.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Protocol(err, "encode message")
	}
	return data, nil
}

// DecodePayload unmarshals the opaque payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return errors.NewAppErrorf(errors.ErrCodeProtocol, "%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return errors.Protocol(err, fmt.Sprintf("decode %s payload", m.Type))
	}
	return nil
}

// NormalizeRoomID upper-cases and trims a room id. Room ids are
// case-insensitive alphanumerics.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidRoomID reports whether id is a non-empty alphanumeric string.
func ValidRoomID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
