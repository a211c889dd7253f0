// Package protocol defines the WebSocket event types and structures exchanged
// between clients and the session relay. All events are serialized as JSON and
// follow a consistent envelope format with a type discriminator. Event
// payloads are opaque to the relay: beyond the room identifier, no schema is
// enforced.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoinSession     = "join-session"
	TypeLeaveSession    = "leave-session"
	TypeSessionMessage  = "session-message"
	TypeBiometricUpdate = "biometric-update"
	TypePoseUpdate      = "pose-update"
	TypeSendReaction    = "send-reaction"
	TypePing            = "ping"
)

// Server -> Client event types.
const (
	TypeSessionCreated    = "session-created"
	TypeSessionState      = "session-state"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeReaction          = "reaction"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinSessionMsg is sent by a client to enter a room. The room is created on
// first join.
type JoinSessionMsg struct {
	Type        string `json:"type"`
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// LeaveSessionMsg is sent by a client to leave its current room.
type LeaveSessionMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SessionMessageMsg carries a chat message to the other participants of a
// room. The payload is relayed verbatim.
type SessionMessageMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// BiometricUpdateMsg carries a biometric sample (heart rate, emotion score,
// etc.) to the other participants of a room.
type BiometricUpdateMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// PoseUpdateMsg carries a body/face pose sample to the other participants of
// a room.
type PoseUpdateMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// SendReactionMsg carries an emoji-style reaction to the other participants
// of a room.
type SendReactionMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is
// established, before any room is joined.
type SessionCreatedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// ParticipantInfo describes one participant of a room.
type ParticipantInfo struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
}

// SessionStateMsg is sent to a client right after it joins a room, listing
// the participants that were already present. It doubles as the join
// acknowledgment.
type SessionStateMsg struct {
	Type         string            `json:"type"`
	RoomID       string            `json:"room_id"`
	Participants []ParticipantInfo `json:"participants"`
}

// ParticipantJoinedMsg notifies existing room members that a new participant
// has joined.
type ParticipantJoinedMsg struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"room_id"`
	Participant ParticipantInfo `json:"participant"`
}

// ParticipantLeftMsg notifies remaining room members that a participant has
// left or disconnected.
type ParticipantLeftMsg struct {
	Type         string `json:"type"`
	RoomID       string `json:"room_id"`
	ConnectionID string `json:"connection_id"`
}

// RelayedEventMsg is the server-side form of a fanned-out room event
// (session-message, biometric-update, pose-update, reaction). From is the
// connection ID of the sender; the payload is untouched.
type RelayedEventMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types, and for room-scoped events missing a room_id.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		msg    interface{}
		roomID string
		err    error
	)

	switch env.Type {
	case TypeJoinSession:
		var m JoinSessionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, roomID = m, m.RoomID
	case TypeLeaveSession:
		var m LeaveSessionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, roomID = m, m.RoomID
	case TypeSessionMessage:
		var m SessionMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, roomID = m, m.RoomID
	case TypeBiometricUpdate:
		var m BiometricUpdateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, roomID = m, m.RoomID
	case TypePoseUpdate:
		var m PoseUpdateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, roomID = m, m.RoomID
	case TypeSendReaction:
		var m SendReactionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg, roomID = m, m.RoomID
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
		return env.Type, msg, err
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	if roomID == "" {
		return env.Type, nil, fmt.Errorf("protocol: %q event missing room_id", env.Type)
	}
	return env.Type, msg, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server event structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerEvent(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}
