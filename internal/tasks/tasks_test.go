package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/tasks"
	"greendrake/tutormatch/internal/utils"
)

// --- Mocks ---

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) Upsert(ctx context.Context, postID, studentID, tutorID string, kind models.ChatKind) (*models.ChatRoom, error) {
	args := m.Called(ctx, postID, studentID, tutorID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

func (m *MockChatService) GetRoom(ctx context.Context, postID, tutorID string, actor models.Actor) (*models.ChatRoom, error) {
	args := m.Called(ctx, postID, tutorID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatRoom), args.Error(1)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

var epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// --- Tests ---

func TestDispatcher_EnqueuesNotification(t *testing.T) {
	client := new(MockEnqueuer)
	d := tasks.NewDispatcher(client, config.Defaults(), utils.NewStubClock(epoch))

	var captured *asynq.Task
	client.On("EnqueueContext", mock.Anything, mock.AnythingOfType("*asynq.Task"), mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*asynq.Task) }).
		Return(&asynq.TaskInfo{ID: "t1"}, nil).Once()

	err := d.Dispatch(context.Background(), "tutor-1", models.EventApplicationShortlisted, map[string]string{"post_id": "p1"})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, tasks.TypeNotificationDeliver, captured.Type())

	var payload tasks.NotificationTaskPayload
	require.NoError(t, json.Unmarshal(captured.Payload(), &payload))
	assert.Equal(t, "tutor-1", payload.RecipientID)
	assert.Equal(t, models.EventApplicationShortlisted, payload.EventType)
	assert.Equal(t, "p1", payload.Payload["post_id"])
	assert.True(t, epoch.Equal(payload.CreatedAt))
	client.AssertExpectations(t)
}

func TestDispatcher_EnqueueFailure(t *testing.T) {
	client := new(MockEnqueuer)
	d := tasks.NewDispatcher(client, config.Defaults(), utils.NewStubClock(epoch))
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("redis unavailable"))

	err := d.Dispatch(context.Background(), "tutor-1", models.EventApplicationAccepted, nil)
	assert.ErrorContains(t, err, "redis unavailable")
}

func TestElevationScheduler_DuplicateTaskIsSuccess(t *testing.T) {
	client := new(MockEnqueuer)
	s := tasks.NewElevationScheduler(client, config.Defaults())
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{ID: "x"}, nil).Once()
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()

	assert.NoError(t, s.ScheduleElevation(context.Background(), "p1", "s1", "t1"))
	assert.NoError(t, s.ScheduleElevation(context.Background(), "p1", "s1", "t1"))
	client.AssertExpectations(t)
}

func TestHandleNotificationTask_Success(t *testing.T) {
	sender := new(MockSender)
	p := tasks.NewTaskProcessor(sender, nil, zap.NewNop())

	payloadBytes, _ := json.Marshal(tasks.NotificationTaskPayload{
		RecipientID: "student-1",
		EventType:   models.EventApplicationSubmitted,
		Payload:     map[string]string{"application_id": "a1"},
		CreatedAt:   epoch,
	})
	sender.On("Send", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.RecipientID == "student-1" &&
			n.EventType == models.EventApplicationSubmitted &&
			n.Payload["application_id"] == "a1"
	})).Return(nil).Once()

	err := p.HandleNotificationTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, payloadBytes))
	assert.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestHandleNotificationTask_SenderErrorIsRetried(t *testing.T) {
	sender := new(MockSender)
	p := tasks.NewTaskProcessor(sender, nil, zap.NewNop())
	payloadBytes, _ := json.Marshal(tasks.NotificationTaskPayload{RecipientID: "s1", EventType: models.EventPostClosed})
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("temporarily unavailable"))

	err := p.HandleNotificationTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, payloadBytes))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleNotificationTask_BadPayloadSkipsRetry(t *testing.T) {
	p := tasks.NewTaskProcessor(new(MockSender), nil, zap.NewNop())

	err := p.HandleNotificationTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	empty, _ := json.Marshal(tasks.NotificationTaskPayload{})
	err = p.HandleNotificationTask(context.Background(), asynq.NewTask(tasks.TypeNotificationDeliver, empty))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleChatElevateTask(t *testing.T) {
	chat := new(MockChatService)
	p := tasks.NewTaskProcessor(nil, chat, zap.NewNop())
	payloadBytes, _ := json.Marshal(tasks.ChatElevateTaskPayload{PostID: "p1", StudentID: "s1", TutorID: "t1"})
	task := asynq.NewTask(tasks.TypeChatElevate, payloadBytes)

	chat.On("Upsert", mock.Anything, "p1", "s1", "t1", models.ChatKindFull).
		Return(&models.ChatRoom{ID: "room-1", Kind: models.ChatKindFull}, nil).Once()
	assert.NoError(t, p.HandleChatElevateTask(context.Background(), task))

	chat.On("Upsert", mock.Anything, "p1", "s1", "t1", models.ChatKindFull).
		Return(nil, apperr.ErrChatInconsistent).Once()
	err := p.HandleChatElevateTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	chat.On("Upsert", mock.Anything, "p1", "s1", "t1", models.ChatKindFull).
		Return(nil, apperr.Validation("post, student and tutor are required")).Once()
	err = p.HandleChatElevateTask(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	chat.AssertExpectations(t)
}
