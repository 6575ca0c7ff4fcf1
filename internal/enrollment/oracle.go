package enrollment

import (
	"context"

	"github.com/google/uuid"

	"github.com/pfa-elearn/backend/internal/models"
)

// SessionLookup resolves a session id to its record. Implemented by the
// sessions repository; a missing session surfaces as not-found.
type SessionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Oracle answers session-scoped authorization questions: is this user the
// host, is this user enrolled in the course backing the session.
type Oracle struct {
	sessions SessionLookup
	repo     *Repository
}

// NewOracle creates an authorization oracle.
func NewOracle(sessions SessionLookup, repo *Repository) *Oracle {
	return &Oracle{sessions: sessions, repo: repo}
}

// IsHost reports whether the user hosts the session. Both host_id and
// created_by count as host; the two fields are set together at creation and
// either may be consulted by callers.
func (o *Oracle) IsHost(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	s, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.HostID == userID || s.CreatedBy == userID, nil
}

// IsEnrolled reports whether the user is enrolled in the course backing the
// session.
func (o *Oracle) IsEnrolled(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	s, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return o.repo.IsEnrolledInCourse(ctx, s.CourseID, userID)
}
