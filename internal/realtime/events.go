package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Client-originated gateway events. The set is closed: anything else read
// off a connection is ignored.
const (
	EventJoinSession    = "join_session"
	EventLeaveSession   = "leave_session"
	EventRaiseHand      = "raise_hand"
	EventLowerHand      = "lower_hand"
	EventTyping         = "typing"
	EventPresenceUpdate = "presence_update"
)

// Server-originated room events.
const (
	EventPresenceChange = "presence_change"
	EventSessionStatus  = "session_status"
	EventPollCreated    = "poll_created"
	EventPollClosed     = "poll_closed"
	EventPollTally      = "poll_tally"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRef addresses one session room; carried by every client event.
type RoomRef struct {
	SessionID uuid.UUID `json:"session_id"`
}

// HandEvent is broadcast to the rest of a room on raise_hand / lower_hand /
// typing, with the sender attached. Nothing is persisted.
type HandEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// PresenceUpdate is the client payload for presence_update.
type PresenceUpdate struct {
	SessionID uuid.UUID `json:"session_id"`
	IsOnline  bool      `json:"is_online"`
}

// PresenceChange is broadcast to the rest of a room when a member's online
// state changes.
type PresenceChange struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	IsOnline  bool      `json:"is_online"`
}
