package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pfa-elearn/backend/internal/notifications"
	"github.com/pfa-elearn/backend/pkg/queue"
)

// NotificationProcessor drains the notification queue and persists each
// announcement to the recipient's inbox.
type NotificationProcessor struct {
	repo   *notifications.Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewNotificationProcessor creates a notification delivery processor.
func NewNotificationProcessor(repo *notifications.Repository, q *queue.Queue, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{repo: repo, queue: q, logger: logger}
}

// Process executes one notification delivery job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.repo.Insert(ctx, payload.UserID, payload.Message, payload.Metadata); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	p.logger.Info("notification delivered",
		zap.String("job_id", job.ID),
		zap.String("user_id", payload.UserID.String()),
		zap.String("session_id", payload.SessionID.String()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
