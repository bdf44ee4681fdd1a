package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationStatus_Transitions(t *testing.T) {
	tests := []struct {
		from ApplicationStatus
		to   ApplicationStatus
		want bool
	}{
		{ApplicationStatusSubmitted, ApplicationStatusShortlisted, true},
		{ApplicationStatusSubmitted, ApplicationStatusRejected, true},
		{ApplicationStatusSubmitted, ApplicationStatusAccepted, false},
		{ApplicationStatusShortlisted, ApplicationStatusAccepted, true},
		{ApplicationStatusShortlisted, ApplicationStatusRejected, true},
		{ApplicationStatusAccepted, ApplicationStatusRejected, false},
		{ApplicationStatusRejected, ApplicationStatusShortlisted, false},
		{ApplicationStatusRejected, ApplicationStatusSubmitted, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, ApplicationStatusAccepted.IsTerminal())
	assert.True(t, ApplicationStatusRejected.IsTerminal())
	assert.False(t, ApplicationStatusShortlisted.IsTerminal())
}

func TestPostStatus_Transitions(t *testing.T) {
	assert.True(t, PostStatusDraft.CanTransitionTo(PostStatusActive))
	assert.True(t, PostStatusInterviewing.CanTransitionTo(PostStatusMatched))
	assert.True(t, PostStatusClosed.CanTransitionTo(PostStatusActive))
	assert.False(t, PostStatusMatched.CanTransitionTo(PostStatusClosed))
	assert.False(t, PostStatusFulfilled.CanTransitionTo(PostStatusClosed))
	assert.False(t, PostStatusActive.CanTransitionTo(PostStatusMatched))
}

func TestParse_RejectsUnknownValues(t *testing.T) {
	status, err := ParseApplicationStatus("shortlisted")
	require.NoError(t, err)
	assert.Equal(t, ApplicationStatusShortlisted, status)
	_, err = ParseApplicationStatus("withdrawn")
	assert.Error(t, err)

	post, err := ParsePostStatus("matched")
	require.NoError(t, err)
	assert.Equal(t, PostStatusMatched, post)
	_, err = ParsePostStatus("archived")
	assert.Error(t, err)

	action, err := ParseApplicationAction("accept")
	require.NoError(t, err)
	assert.Equal(t, ApplicationStatusAccepted, action.Target())
	_, err = ParseApplicationAction("ACCEPT")
	assert.Error(t, err)

	_, err = ParseChatKind("video")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&Post{ID: "p1", Status: PostStatusDraft}).Validate())
	assert.ErrorContains(t, (&Post{ID: "p1", Status: "pending"}).Validate(), "p1")
	assert.NoError(t, (&Application{ID: "a1", Status: ApplicationStatusSubmitted}).Validate())
	assert.Error(t, (&Application{ID: "a1"}).Validate())
	assert.NoError(t, (&ChatRoom{ID: "r1", Kind: ChatKindFull}).Validate())
	assert.Error(t, (&ChatRoom{ID: "r1", Kind: "group"}).Validate())
}

func TestScopedIdempotencyKey_NoCollisions(t *testing.T) {
	assert.NotEqual(t, ScopedIdempotencyKey("a:b", "c"), ScopedIdempotencyKey("a", "b:c"))
	assert.NotEqual(t, ScopedIdempotencyKey("", "1:x"), ScopedIdempotencyKey("1:x", ""))
	assert.Equal(t, ScopedIdempotencyKey("tutor-1", "k"), ScopedIdempotencyKey("tutor-1", "k"))
}
