package models

import (
	"fmt"
	"time"
)

// ChatKind distinguishes a time-boxed interview channel from a permanent one.
type ChatKind string

const (
	ChatKindInterview ChatKind = "interview"
	ChatKindFull      ChatKind = "full"
)

// ParseChatKind rejects unknown kinds.
func ParseChatKind(s string) (ChatKind, error) {
	switch k := ChatKind(s); k {
	case ChatKindInterview, ChatKindFull:
		return k, nil
	}
	return "", fmt.Errorf("unknown chat kind %q", s)
}

// Covers reports whether a room of kind k already satisfies a request for want.
// Elevation is monotonic: full covers everything.
func (k ChatKind) Covers(want ChatKind) bool {
	return k == ChatKindFull || k == want
}

// ChatRoom is the conversation channel for one (post, tutor) pair.
type ChatRoom struct {
	ID         string     `bson:"_id" json:"id"`
	PostID     string     `bson:"post_id" json:"post_id"`
	StudentID  string     `bson:"student_id" json:"student_id"`
	TutorID    string     `bson:"tutor_id" json:"tutor_id"`
	Kind       ChatKind   `bson:"kind" json:"kind"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expires_at"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	ElevatedAt *time.Time `bson:"elevated_at,omitempty" json:"elevated_at,omitempty"`
	Version    int64      `bson:"version" json:"version"`
}

// HasParticipant reports whether userID is the student or the tutor of the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	return r.StudentID == userID || r.TutorID == userID
}

// Validate rejects a ChatRoom whose kind is unknown.
func (r *ChatRoom) Validate() error {
	if _, err := ParseChatKind(string(r.Kind)); err != nil {
		return fmt.Errorf("chat room %s: %w", r.ID, err)
	}
	return nil
}

// Clone returns a deep copy.
func (r *ChatRoom) Clone() *ChatRoom {
	c := *r
	c.ExpiresAt = cloneTime(r.ExpiresAt)
	c.ElevatedAt = cloneTime(r.ElevatedAt)
	return &c
}
