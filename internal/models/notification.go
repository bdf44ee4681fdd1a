package models

import "time"

// EventType names a lifecycle event delivered to a recipient.
type EventType string

const (
	EventApplicationSubmitted   EventType = "application.submitted"
	EventApplicationShortlisted EventType = "application.shortlisted"
	EventApplicationAccepted    EventType = "application.accepted"
	EventApplicationRejected    EventType = "application.rejected"
	EventPostMatched            EventType = "post.matched"
	EventPostClosed             EventType = "post.closed"
	EventPostReopened           EventType = "post.reopened"
	EventPostFulfilled          EventType = "post.fulfilled"
)

// Notification is one event addressed to one recipient.
type Notification struct {
	RecipientID string            `json:"recipient_id"`
	EventType   EventType         `json:"event_type"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
