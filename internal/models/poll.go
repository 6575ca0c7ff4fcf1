package models

import (
	"time"

	"github.com/google/uuid"
)

// PollOption is one choice in a poll with its current tally.
// Option ids are assigned sequentially at creation: opt_1, opt_2, ...
type PollOption struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Poll represents a poll run inside a live session.
// Invariant: the sum of option votes equals the number of distinct users
// who have ever voted in the poll; revotes move a vote, never add one.
type Poll struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	Question  string       `json:"question"`
	IsOpen    bool         `json:"is_open"`
	CreatedBy uuid.UUID    `json:"created_by"`
	Options   []PollOption `json:"options"`
	CreatedAt time.Time    `json:"created_at"`
}

// PollVote is a user's current ballot in a poll, one row per (poll, user).
// Overwritten in place on revote.
type PollVote struct {
	PollID   uuid.UUID `json:"poll_id"`
	UserID   uuid.UUID `json:"user_id"`
	OptionID string    `json:"option_id"`
	VotedAt  time.Time `json:"voted_at"`
}
