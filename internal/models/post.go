package models

import (
	"fmt"
	"time"
)

// PostStatus is the lifecycle state of a Post.
type PostStatus string

const (
	PostStatusDraft        PostStatus = "draft"
	PostStatusActive       PostStatus = "active"
	PostStatusInterviewing PostStatus = "interviewing"
	PostStatusMatched      PostStatus = "matched"
	PostStatusFulfilled    PostStatus = "fulfilled"
	PostStatusClosed       PostStatus = "closed"
)

// postTransitions is the complete set of allowed Post status edges.
var postTransitions = map[PostStatus][]PostStatus{
	PostStatusDraft:        {PostStatusActive},
	PostStatusActive:       {PostStatusInterviewing, PostStatusClosed},
	PostStatusInterviewing: {PostStatusMatched, PostStatusClosed},
	PostStatusMatched:      {PostStatusFulfilled},
	PostStatusFulfilled:    {},
	PostStatusClosed:       {PostStatusActive},
}

// ParsePostStatus rejects anything outside the closed set of statuses.
func ParsePostStatus(s string) (PostStatus, error) {
	status := PostStatus(s)
	if _, ok := postTransitions[status]; !ok {
		return "", fmt.Errorf("unknown post status %q", s)
	}
	return status, nil
}

// CanTransitionTo reports whether the edge s -> next exists.
func (s PostStatus) CanTransitionTo(next PostStatus) bool {
	for _, allowed := range postTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsApplications reports whether tutors may submit to a Post in this status.
func (s PostStatus) AcceptsApplications() bool {
	return s == PostStatusActive || s == PostStatusInterviewing
}

// Post is a tuition request published by a student.
type Post struct {
	ID              string     `bson:"_id" json:"id"`
	OwnerID         string     `bson:"owner_id" json:"owner_id"`
	Title           string     `bson:"title" json:"title"`
	Subject         string     `bson:"subject" json:"subject"`
	Description     string     `bson:"description" json:"description"`
	Status          PostStatus `bson:"status" json:"status"`
	AcceptedTutorID *string    `bson:"accepted_tutor_id,omitempty" json:"accepted_tutor_id,omitempty"`
	Version         int64      `bson:"version" json:"version"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
	PublishedAt     *time.Time `bson:"published_at,omitempty" json:"published_at,omitempty"`
	ClosedAt        *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	MatchedAt       *time.Time `bson:"matched_at,omitempty" json:"matched_at,omitempty"`
	FulfilledAt     *time.Time `bson:"fulfilled_at,omitempty" json:"fulfilled_at,omitempty"`
}

// IsLocked reports whether the Post has an accepted tutor and can no longer be edited or deleted.
func (p *Post) IsLocked() bool {
	return p.AcceptedTutorID != nil
}

// Validate rejects a Post whose status is outside the known set.
func (p *Post) Validate() error {
	if _, err := ParsePostStatus(string(p.Status)); err != nil {
		return fmt.Errorf("post %s: %w", p.ID, err)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Post) Clone() *Post {
	c := *p
	c.AcceptedTutorID = cloneString(p.AcceptedTutorID)
	c.PublishedAt = cloneTime(p.PublishedAt)
	c.ClosedAt = cloneTime(p.ClosedAt)
	c.MatchedAt = cloneTime(p.MatchedAt)
	c.FulfilledAt = cloneTime(p.FulfilledAt)
	return &c
}

// PostUpdate carries the editable fields of a Post. Nil fields are left unchanged.
type PostUpdate struct {
	Title       *string `json:"title,omitempty"`
	Subject     *string `json:"subject,omitempty"`
	Description *string `json:"description,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
