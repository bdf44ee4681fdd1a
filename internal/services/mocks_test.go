package services

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/repository"
	"greendrake/tutormatch/internal/utils"
)

func init() {
	db.RetryBackoff = time.Millisecond
}

// --- Mocks ---

// MockDispatcher implements NotificationDispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, recipientID string, eventType models.EventType, payload map[string]string) error {
	args := m.Called(ctx, recipientID, eventType, payload)
	return args.Error(0)
}

// MockElevationScheduler implements ElevationScheduler.
type MockElevationScheduler struct {
	mock.Mock
}

func (m *MockElevationScheduler) ScheduleElevation(ctx context.Context, postID, studentID, tutorID string) error {
	args := m.Called(ctx, postID, studentID, tutorID)
	return args.Error(0)
}

// MockChatService implements IChatService.
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

// failingPostRepository fails any save that would match a Post.
type failingPostRepository struct {
	repository.PostRepository
}

func (r *failingPostRepository) Save(ctx context.Context, post *models.Post) error {
	if post.Status == models.PostStatusMatched {
		return errors.New("write concern timeout")
	}
	return r.PostRepository.Save(ctx, post)
}

// hookedApplicationRepository lets a test fail or follow up Application saves.
type hookedApplicationRepository struct {
	repository.ApplicationRepository
	failSave  func(app *models.Application) error
	afterSave func(app *models.Application)
}

func (r *hookedApplicationRepository) Save(ctx context.Context, app *models.Application) error {
	if r.failSave != nil {
		if err := r.failSave(app); err != nil {
			return err
		}
	}
	if err := r.ApplicationRepository.Save(ctx, app); err != nil {
		return err
	}
	if r.afterSave != nil {
		r.afterSave(app)
	}
	return nil
}

// --- Fixture ---

var testEpoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	repos      repository.Repositories
	cfg        *config.Config
	clock      *utils.StubClock
	dispatcher *MockDispatcher
	scheduler  *MockElevationScheduler
	posts      IPostService
	apps       IApplicationService
	chat       IChatService
}

func newFixture() *fixture {
	return newFixtureWith(repository.NewMemoryRepositories(), nil)
}

// newFixtureWith builds the services over repos; chat replaces the real chat service when non-nil.
func newFixtureWith(repos repository.Repositories, chat IChatService) *fixture {
	f := &fixture{
		repos:      repos,
		cfg:        config.Defaults(),
		clock:      utils.NewStubClock(testEpoch),
		dispatcher: &MockDispatcher{},
		scheduler:  &MockElevationScheduler{},
	}
	f.dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	logger := zap.NewNop()
	if chat == nil {
		chat = NewChatService(repos.ChatRooms, f.cfg, f.clock, logger)
	}
	f.chat = chat
	f.posts = NewPostService(repos, f.cfg, f.clock, f.dispatcher, logger)
	f.apps = NewApplicationService(repos, chat, f.scheduler, f.cfg, f.clock, f.dispatcher, logger)
	return f
}

func zapNop() *zap.Logger { return zap.NewNop() }

func student(id string) models.Actor { return models.Actor{UserID: id, Role: models.RoleStudent} }
func tutor(id string) models.Actor   { return models.Actor{UserID: id, Role: models.RoleTutor} }

var admin = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
