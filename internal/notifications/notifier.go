package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/pkg/queue"
)

// Enrollments lists the users to notify about a course's sessions.
type Enrollments interface {
	ListEnrolledUserIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error)
}

// Jobs enqueues notification delivery work.
type Jobs interface {
	EnqueueNotification(ctx context.Context, payload queue.NotificationPayload) error
}

// Notifier fans session announcements out to enrolled users through the job
// queue. Everything here is fire-and-forget: failures are logged and never
// propagate to the caller.
type Notifier struct {
	enrollments Enrollments
	jobs        Jobs
	logger      *zap.Logger
}

// NewNotifier creates a queue-backed notifier. jobs may be nil when Redis is
// not configured; announcements are then skipped.
func NewNotifier(enrollments Enrollments, jobs Jobs, logger *zap.Logger) *Notifier {
	return &Notifier{enrollments: enrollments, jobs: jobs, logger: logger}
}

// SessionScheduled announces a newly scheduled session to every user
// enrolled in its course, except the host.
func (n *Notifier) SessionScheduled(ctx context.Context, s *models.LiveSession) {
	if n.jobs == nil {
		return
	}
	userIDs, err := n.enrollments.ListEnrolledUserIDs(ctx, s.CourseID)
	if err != nil {
		n.logger.Warn("list enrollees for announcement", zap.Error(err), zap.String("session_id", s.ID.String()))
		return
	}
	metadata, _ := json.Marshal(map[string]string{
		"session_id":      s.ID.String(),
		"course_id":       s.CourseID.String(),
		"scheduled_start": s.ScheduledStart.Format("2006-01-02T15:04:05Z07:00"),
	})
	message := fmt.Sprintf("New live session scheduled: %s", s.Title)
	for _, userID := range userIDs {
		if userID == s.HostID {
			continue
		}
		err := n.jobs.EnqueueNotification(ctx, queue.NotificationPayload{
			UserID:    userID,
			SessionID: s.ID,
			Message:   message,
			Metadata:  metadata,
		})
		if err != nil {
			n.logger.Warn("enqueue session announcement", zap.Error(err), zap.String("user_id", userID.String()))
		}
	}
}
