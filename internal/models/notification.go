package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is a durable per-user notification (e.g. a session was
// scheduled for a course the user is enrolled in). Delivery is best-effort
// via the background worker.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
