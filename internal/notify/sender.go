// Package notify delivers lifecycle notifications to their recipients.
// Rendering and real delivery channels live outside this service; the senders
// here log, persist or hand messages over.
package notify

import (
	"context"

	"go.uber.org/zap"

	"greendrake/tutormatch/internal/models"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// LoggingSender just logs notifications. Used when nothing else is configured.
type LoggingSender struct {
	logger *zap.Logger
}

func NewLoggingSender(logger *zap.Logger) Sender {
	return &LoggingSender{logger: logger}
}

func (s *LoggingSender) Send(ctx context.Context, n models.Notification) error {
	s.logger.Info("notification",
		zap.String("recipient_id", n.RecipientID),
		zap.String("event_type", string(n.EventType)),
		zap.Any("payload", n.Payload),
		zap.Time("created_at", n.CreatedAt))
	return nil
}
