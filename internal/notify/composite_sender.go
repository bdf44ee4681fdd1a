package notify

import (
	"context"
	"errors"
	"fmt"

	"greendrake/tutormatch/internal/models"
)

// CompositeSender delivers through every registered Sender.
type CompositeSender struct {
	senders []Sender
}

// NewCompositeSender returns the concrete type so AddSender can be called directly.
func NewCompositeSender(senders ...Sender) *CompositeSender {
	return &CompositeSender{senders: senders}
}

// AddSender adds a sender to the composite sender's list.
func (cs *CompositeSender) AddSender(sender Sender) {
	if sender != nil {
		cs.senders = append(cs.senders, sender)
	}
}

// Send calls every sender, even after a failure, and joins the errors.
func (cs *CompositeSender) Send(ctx context.Context, n models.Notification) error {
	if len(cs.senders) == 0 {
		return errors.New("no senders configured in CompositeSender")
	}

	var errs []error
	for _, sender := range cs.senders {
		if err := sender.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("composite notification send failed: %w", errors.Join(errs...))
	}
	return nil
}
