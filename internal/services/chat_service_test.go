package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/models"
)

func TestChatService_CreateInterviewRoom(t *testing.T) {
	f := newFixture()
	room, err := f.chat.Upsert(context.Background(), "post-1", "student-1", "tutor-1", models.ChatKindInterview)
	require.NoError(t, err)

	assert.Equal(t, models.ChatKindInterview, room.Kind)
	require.NotNil(t, room.ExpiresAt)
	assert.Equal(t, testEpoch.Add(7*24*time.Hour), *room.ExpiresAt)
	assert.Nil(t, room.ElevatedAt)
}

func TestChatService_ElevationIsMonotonic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.chat.Upsert(ctx, "post-1", "student-1", "tutor-1", models.ChatKindInterview)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	full, err := f.chat.Upsert(ctx, "post-1", "student-1", "tutor-1", models.ChatKindFull)
	require.NoError(t, err)
	assert.Equal(t, models.ChatKindFull, full.Kind)
	assert.Nil(t, full.ExpiresAt)
	require.NotNil(t, full.ElevatedAt)
	assert.Equal(t, testEpoch.Add(time.Hour), *full.ElevatedAt)

	again, err := f.chat.Upsert(ctx, "post-1", "student-1", "tutor-1", models.ChatKindInterview)
	require.NoError(t, err)
	assert.Equal(t, models.ChatKindFull, again.Kind)
	assert.Nil(t, again.ExpiresAt)
	assert.Equal(t, full.ID, again.ID)
	assert.Equal(t, full.Version, again.Version)
}

func TestChatService_FirstCallFullHasNoExpiry(t *testing.T) {
	f := newFixture()
	room, err := f.chat.Upsert(context.Background(), "post-1", "student-1", "tutor-1", models.ChatKindFull)
	require.NoError(t, err)
	assert.Equal(t, models.ChatKindFull, room.Kind)
	assert.Nil(t, room.ExpiresAt)
}

func TestChatService_ConcurrentUpsertsYieldOneRoom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		kind := models.ChatKindInterview
		if i%4 == 0 {
			kind = models.ChatKindFull
		}
		wg.Add(1)
		go func(kind models.ChatKind) {
			defer wg.Done()
			room, err := f.chat.Upsert(ctx, "post-1", "student-1", "tutor-1", kind)
			if assert.NoError(t, err) {
				ids <- room.ID
			}
		}(kind)
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	room, err := f.chat.GetRoom(ctx, "post-1", "tutor-1", admin)
	require.NoError(t, err)
	assert.Equal(t, models.ChatKindFull, room.Kind)
	assert.Nil(t, room.ExpiresAt)
}

func TestChatService_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.chat.Upsert(context.Background(), "", "student-1", "tutor-1", models.ChatKindInterview)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.chat.Upsert(context.Background(), "post-1", "student-1", "tutor-1", models.ChatKind("video"))
	assert.True(t, apperr.IsValidation(err))
}

func TestChatService_GetRoomParticipants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.chat.Upsert(ctx, "post-1", "student-1", "tutor-1", models.ChatKindInterview)
	require.NoError(t, err)

	_, err = f.chat.GetRoom(ctx, "post-1", "tutor-1", student("student-1"))
	assert.NoError(t, err)
	_, err = f.chat.GetRoom(ctx, "post-1", "tutor-1", tutor("tutor-1"))
	assert.NoError(t, err)
	_, err = f.chat.GetRoom(ctx, "post-1", "tutor-1", tutor("tutor-2"))
	assert.True(t, apperr.IsAuthorization(err))
	_, err = f.chat.GetRoom(ctx, "post-1", "tutor-2", admin)
	assert.True(t, apperr.IsNotFound(err))
}
