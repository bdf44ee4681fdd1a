package services

import (
	"context"

	"go.uber.org/zap"

	"greendrake/tutormatch/internal/models"
)

// NotificationDispatcher accepts lifecycle events for asynchronous delivery.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, recipientID string, eventType models.EventType, payload map[string]string) error
}

// ElevationScheduler retries a failed chat elevation outside the request that needed it.
type ElevationScheduler interface {
	ScheduleElevation(ctx context.Context, postID, studentID, tutorID string) error
}

// notifier makes dispatch best-effort: failures are logged, never returned.
type notifier struct {
	dispatcher NotificationDispatcher
	logger     *zap.Logger
}

func (n notifier) notify(ctx context.Context, recipientID string, eventType models.EventType, payload map[string]string) {
	if n.dispatcher == nil || recipientID == "" {
		return
	}
	if err := n.dispatcher.Dispatch(ctx, recipientID, eventType, payload); err != nil {
		n.logger.Warn("failed to dispatch notification",
			zap.String("recipient_id", recipientID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
