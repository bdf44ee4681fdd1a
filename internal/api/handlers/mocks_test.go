package handlers_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/services"
)

// --- Mocks ---

// MockPostService implements services.IPostService
type MockPostService struct {
	mock.Mock
}

func (m *MockPostService) post(args mock.Arguments) (*models.Post, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockPostService) CreatePost(ctx context.Context, actor models.Actor, input services.CreatePostInput) (*models.Post, error) {
	return m.post(m.Called(ctx, actor, input))
}
func (m *MockPostService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	return m.post(m.Called(ctx, postID))
}
func (m *MockPostService) PublishPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	return m.post(m.Called(ctx, postID, actor))
}
func (m *MockPostService) ClosePost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	return m.post(m.Called(ctx, postID, actor))
}
func (m *MockPostService) ReopenPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	return m.post(m.Called(ctx, postID, actor))
}
func (m *MockPostService) FulfillPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	return m.post(m.Called(ctx, postID, actor))
}
func (m *MockPostService) UpdatePost(ctx context.Context, postID string, actor models.Actor, update models.PostUpdate) (*models.Post, error) {
	return m.post(m.Called(ctx, postID, actor, update))
}
func (m *MockPostService) DeletePost(ctx context.Context, postID string, actor models.Actor) error {
	args := m.Called(ctx, postID, actor)
	return args.Error(0)
}

// MockApplicationService implements services.IApplicationService
type MockApplicationService struct {
	mock.Mock
}

func (m *MockApplicationService) application(args mock.Arguments) (*models.Application, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Application), args.Error(1)
}

func (m *MockApplicationService) Submit(ctx context.Context, actor models.Actor, input services.SubmitInput) (*models.Application, error) {
	return m.application(m.Called(ctx, actor, input))
}
func (m *MockApplicationService) Transition(ctx context.Context, applicationID string, action models.ApplicationAction, actor models.Actor, reason string) (*models.Application, error) {
	return m.application(m.Called(ctx, applicationID, action, actor, reason))
}
func (m *MockApplicationService) GetApplication(ctx context.Context, applicationID string, actor models.Actor) (*models.Application, error) {
	return m.application(m.Called(ctx, applicationID, actor))
}
func (m *MockApplicationService) ListApplications(ctx context.Context, postID string, actor models.Actor) ([]*models.Application, error) {
	args := m.Called(ctx, postID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Application), args.Error(1)
}

// MockChatService implements services.IChatService
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
