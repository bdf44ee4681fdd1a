package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/repository"
	"greendrake/tutormatch/internal/utils"
)

// IChatService provisions the conversation channel of a (post, tutor) pair.
type IChatService interface {
	// Upsert returns the single ChatRoom for (postID, tutorID), creating it or
	// elevating it to kind as needed. It never downgrades a full room.
	Upsert(ctx context.Context, postID, studentID, tutorID string, kind models.ChatKind) (*models.ChatRoom, error)
	GetRoom(ctx context.Context, postID, tutorID string, actor models.Actor) (*models.ChatRoom, error)
}

type chatService struct {
	rooms  repository.ChatRoomRepository
	cfg    *config.Config
	clock  utils.Clock
	logger *zap.Logger
}

// NewChatService creates a new ChatService.
func NewChatService(rooms repository.ChatRoomRepository, cfg *config.Config, clock utils.Clock, logger *zap.Logger) IChatService {
	return &chatService{rooms: rooms, cfg: cfg, clock: clock, logger: logger}
}

// isChatRace reports errors caused by a concurrent upsert of the same pair.
func isChatRace(err error) bool {
	return errors.Is(err, repository.ErrDuplicateChatRoom) || db.IsVersionMismatch(err)
}

func (s *chatService) Upsert(ctx context.Context, postID, studentID, tutorID string, kind models.ChatKind) (*models.ChatRoom, error) {
	if postID == "" || studentID == "" || tutorID == "" {
		return nil, apperr.Validation("post, student and tutor are required")
	}
	if _, err := models.ParseChatKind(string(kind)); err != nil {
		return nil, apperr.Validation("%v", err)
	}

	var room *models.ChatRoom
	op := func(ctx context.Context) error {
		existing, err := s.rooms.FindByPair(ctx, postID, tutorID)
		if errors.Is(err, repository.ErrNotFound) {
			fresh := s.newRoom(postID, studentID, tutorID, kind)
			if err := s.rooms.Insert(ctx, fresh); err != nil {
				return err
			}
			room = fresh
			return nil
		}
		if err != nil {
			return err
		}

		if existing.Kind.Covers(kind) {
			room = existing
			return nil
		}

		now := s.clock.Now()
		existing.Kind = models.ChatKindFull
		existing.ExpiresAt = nil
		existing.ElevatedAt = &now
		if err := s.rooms.Save(ctx, existing); err != nil {
			return err
		}
		room = existing
		return nil
	}

	err := db.WithRetries(ctx, op, s.cfg.ChatUpsertMaxRetries, isChatRace)
	switch {
	case err == nil:
		return room, nil
	case isChatRace(err):
		s.logger.Error("CRITICAL: chat room upsert did not settle",
			zap.String("post_id", postID),
			zap.String("tutor_id", tutorID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.KindConflict, err, "%s", apperr.ErrChatInconsistent.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		return nil, apperr.Internal(err, "failed to provision chat room for post %s", postID)
	}
}

func (s *chatService) newRoom(postID, studentID, tutorID string, kind models.ChatKind) *models.ChatRoom {
	now := s.clock.Now()
	room := &models.ChatRoom{
		ID:        utils.NewID(),
		PostID:    postID,
		StudentID: studentID,
		TutorID:   tutorID,
		Kind:      kind,
		CreatedAt: now,
		Version:   1,
	}
	if kind == models.ChatKindInterview {
		expires := now.Add(s.cfg.InterviewRoomTTL)
		room.ExpiresAt = &expires
	} else {
		room.ElevatedAt = &now
	}
	return room
}

func (s *chatService) GetRoom(ctx context.Context, postID, tutorID string, actor models.Actor) (*models.ChatRoom, error) {
	room, err := s.rooms.FindByPair(ctx, postID, tutorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("chat room for post %s and tutor %s not found", postID, tutorID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to load chat room for post %s", postID)
	}
	if !actor.IsAdmin() && !room.HasParticipant(actor.UserID) {
		return nil, apperr.Forbidden("not a participant of this chat room")
	}
	return room, nil
}
