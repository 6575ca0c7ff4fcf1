package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the canonical lifecycle state of a live session.
// The alias spellings "active" and "completed" accepted by the status
// update endpoint are normalized to "live" and "ended" at the boundary.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusLive      SessionStatus = "live"
	StatusEnded     SessionStatus = "ended"
	StatusCancelled SessionStatus = "cancelled"
)

// SessionFeatures are the per-session feature flags set at creation.
type SessionFeatures struct {
	Video       bool `json:"video"`
	Chat        bool `json:"chat"`
	Screenshare bool `json:"screenshare"`
	Recording   bool `json:"recording"`
	Polls       bool `json:"polls"`
}

// LiveSession is one scheduled or running synchronous class meeting.
type LiveSession struct {
	ID                      uuid.UUID       `json:"id"`
	CourseID                uuid.UUID       `json:"course_id"`
	HostID                  uuid.UUID       `json:"host_id"`
	CreatedBy               uuid.UUID       `json:"created_by"`
	Title                   string          `json:"title"`
	Description             string          `json:"description"`
	ScheduledStart          time.Time       `json:"scheduled_start"`
	ExpectedDurationMinutes int             `json:"expected_duration_minutes"`
	MaxParticipants         *int            `json:"max_participants,omitempty"`
	Features                SessionFeatures `json:"features"`
	Status                  SessionStatus   `json:"status"`
	SessionCode             string          `json:"session_code"`
	ActivePollID            *uuid.UUID      `json:"active_poll_id,omitempty"`
	ActualStartTime         *time.Time      `json:"actual_start_time,omitempty"`
	EndTime                 *time.Time      `json:"end_time,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Participant is one entry in a session's authoritative roster.
// Membership is keyed by (session_id, user_id); repeated joins do not
// create duplicate entries.
type Participant struct {
	SessionID   uuid.UUID `json:"session_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ParticipantPresence is the best-effort presence mirror for one user in a
// session. It is eventually consistent with the gateway and not
// authoritative for roster membership.
type ParticipantPresence struct {
	SessionID  uuid.UUID `json:"session_id"`
	UserID     uuid.UUID `json:"user_id"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"last_active"`
}

// SessionMaterial is a document or link attached to a session by the host.
type SessionMaterial struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Title      string    `json:"title"`
	Kind       string    `json:"kind"` // "link", "file"
	URL        string    `json:"url,omitempty"`
	S3Key      string    `json:"s3_key,omitempty"`
	UploadedBy uuid.UUID `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
}
