package sessions

import (
	"github.com/pfa-elearn/backend/internal/models"
)

// NormalizeStatus maps a status string, including the legacy alias
// spellings "active" and "completed", to the canonical enum.
func NormalizeStatus(s string) (models.SessionStatus, bool) {
	switch s {
	case "scheduled":
		return models.StatusScheduled, true
	case "live", "active":
		return models.StatusLive, true
	case "ended", "completed":
		return models.StatusEnded, true
	case "cancelled":
		return models.StatusCancelled, true
	}
	return "", false
}

// CanTransition reports whether from -> to is a recognized lifecycle
// transition. Repeating start or end is allowed so retries stay idempotent;
// the corresponding timestamps are only ever set once.
func CanTransition(from, to models.SessionStatus) bool {
	if from == to {
		return from == models.StatusLive || from == models.StatusEnded
	}
	switch from {
	case models.StatusScheduled:
		return to == models.StatusLive || to == models.StatusCancelled
	case models.StatusLive:
		return to == models.StatusEnded || to == models.StatusCancelled
	}
	return false
}
