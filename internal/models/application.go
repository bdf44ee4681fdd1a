package models

import (
	"fmt"
	"time"
)

// ApplicationStatus is the lifecycle state of an Application.
type ApplicationStatus string

const (
	ApplicationStatusSubmitted   ApplicationStatus = "submitted"
	ApplicationStatusShortlisted ApplicationStatus = "shortlisted"
	ApplicationStatusAccepted    ApplicationStatus = "accepted"
	ApplicationStatusRejected    ApplicationStatus = "rejected"
)

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationStatusSubmitted:   {ApplicationStatusShortlisted, ApplicationStatusRejected},
	ApplicationStatusShortlisted: {ApplicationStatusAccepted, ApplicationStatusRejected},
	ApplicationStatusAccepted:    {},
	ApplicationStatusRejected:    {},
}

// ParseApplicationStatus rejects anything outside the closed set of statuses.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	status := ApplicationStatus(s)
	if _, ok := applicationTransitions[status]; !ok {
		return "", fmt.Errorf("unknown application status %q", s)
	}
	return status, nil
}

// CanTransitionTo reports whether the edge s -> next exists.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	for _, allowed := range applicationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves s.
func (s ApplicationStatus) IsTerminal() bool {
	return len(applicationTransitions[s]) == 0
}

// ApplicationAction is a decision an owner can take on an Application.
type ApplicationAction string

const (
	ActionShortlist ApplicationAction = "shortlist"
	ActionAccept    ApplicationAction = "accept"
	ActionReject    ApplicationAction = "reject"
)

// ParseApplicationAction rejects unknown actions.
func ParseApplicationAction(s string) (ApplicationAction, error) {
	switch a := ApplicationAction(s); a {
	case ActionShortlist, ActionAccept, ActionReject:
		return a, nil
	}
	return "", fmt.Errorf("unknown application action %q", s)
}

// Target is the status an action moves an Application into.
func (a ApplicationAction) Target() ApplicationStatus {
	switch a {
	case ActionShortlist:
		return ApplicationStatusShortlisted
	case ActionAccept:
		return ApplicationStatusAccepted
	default:
		return ApplicationStatusRejected
	}
}

const RejectionReasonPositionFilled = "position filled"

// Application is a tutor's bid to fulfil a Post.
type Application struct {
	ID              string            `bson:"_id" json:"id"`
	PostID          string            `bson:"post_id" json:"post_id"`
	TutorID         string            `bson:"tutor_id" json:"tutor_id"`
	Status          ApplicationStatus `bson:"status" json:"status"`
	Pitch           string            `bson:"pitch" json:"pitch"`
	RejectionReason string            `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	// ActiveKey is "<post>:<tutor>" until the Application is Rejected and absent afterwards,
	// so the unique index on it ignores rejected bids.
	ActiveKey      *string    `bson:"active_key,omitempty" json:"-"`
	IdempotencyKey *string    `bson:"idempotency_key,omitempty" json:"-"`
	SubmittedAt    time.Time  `bson:"submitted_at" json:"submitted_at"`
	ShortlistedAt  *time.Time `bson:"shortlisted_at,omitempty" json:"shortlisted_at,omitempty"`
	AcceptedAt     *time.Time `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	RejectedAt     *time.Time `bson:"rejected_at,omitempty" json:"rejected_at,omitempty"`
	Version        int64      `bson:"version" json:"version"`
}

// ActiveApplicationKey builds the value stored in Application.ActiveKey.
func ActiveApplicationKey(postID, tutorID string) string {
	return postID + ":" + tutorID
}

// ScopedIdempotencyKey namespaces a caller key by tutor. The tutor id is length
// prefixed so no (tutor, key) pair can collide with another.
func ScopedIdempotencyKey(tutorID, key string) string {
	return fmt.Sprintf("%d:%s:%s", len(tutorID), tutorID, key)
}

// Validate rejects an Application whose status is outside the known set.
func (a *Application) Validate() error {
	if _, err := ParseApplicationStatus(string(a.Status)); err != nil {
		return fmt.Errorf("application %s: %w", a.ID, err)
	}
	return nil
}

// Clone returns a deep copy.
func (a *Application) Clone() *Application {
	c := *a
	c.ActiveKey = cloneString(a.ActiveKey)
	c.IdempotencyKey = cloneString(a.IdempotencyKey)
	c.ShortlistedAt = cloneTime(a.ShortlistedAt)
	c.AcceptedAt = cloneTime(a.AcceptedAt)
	c.RejectedAt = cloneTime(a.RejectedAt)
	return &c
}
