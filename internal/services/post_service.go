package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/repository"
	"greendrake/tutormatch/internal/utils"
)

const (
	maxTitleLength       = 200
	maxSubjectLength     = 100
	maxDescriptionLength = 10000
)

// IPostService defines the owner-facing Post operations.
// Matching a Post to a tutor is deliberately absent: only the application
// lifecycle can do that, through postMatcher.
type IPostService interface {
	CreatePost(ctx context.Context, actor models.Actor, input CreatePostInput) (*models.Post, error)
	GetPost(ctx context.Context, postID string) (*models.Post, error)
	PublishPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error)
	ClosePost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error)
	ReopenPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error)
	FulfillPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error)
	UpdatePost(ctx context.Context, postID string, actor models.Actor, update models.PostUpdate) (*models.Post, error)
	DeletePost(ctx context.Context, postID string, actor models.Actor) error
}

// CreatePostInput carries the fields of a new Post.
type CreatePostInput struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Publish     bool   `json:"publish"`
}

// postMatcher is the Post mutation surface reserved for the application lifecycle.
type postMatcher interface {
	loadPost(ctx context.Context, postID string) (*models.Post, error)
	markInterviewing(ctx context.Context, postID string) (*models.Post, error)
	markMatched(ctx context.Context, postID, tutorID string) (*models.Post, error)
}

type postService struct {
	posts    repository.PostRepository
	apps     repository.ApplicationRepository
	rooms    repository.ChatRoomRepository
	cfg      *config.Config
	clock    utils.Clock
	notifier notifier
	logger   *zap.Logger
}

// NewPostService creates a new PostService.
func NewPostService(repos repository.Repositories, cfg *config.Config, clock utils.Clock, dispatcher NotificationDispatcher, logger *zap.Logger) IPostService {
	return newPostService(repos, cfg, clock, dispatcher, logger)
}

func newPostService(repos repository.Repositories, cfg *config.Config, clock utils.Clock, dispatcher NotificationDispatcher, logger *zap.Logger) *postService {
	return &postService{
		posts:    repos.Posts,
		apps:     repos.Applications,
		rooms:    repos.ChatRooms,
		cfg:      cfg,
		clock:    clock,
		notifier: notifier{dispatcher: dispatcher, logger: logger},
		logger:   logger,
	}
}

func validatePostFields(title, subject, description string) error {
	if title == "" {
		return apperr.Validation("title is required")
	}
	if len(title) > maxTitleLength {
		return apperr.Validation("title must be at most %d characters", maxTitleLength)
	}
	if len(subject) > maxSubjectLength {
		return apperr.Validation("subject must be at most %d characters", maxSubjectLength)
	}
	if len(description) > maxDescriptionLength {
		return apperr.Validation("description must be at most %d characters", maxDescriptionLength)
	}
	return nil
}

// CreatePost stores a new Post owned by the actor, as a draft or already published.
func (s *postService) CreatePost(ctx context.Context, actor models.Actor, input CreatePostInput) (*models.Post, error) {
	if actor.UserID == "" {
		return nil, apperr.Validation("owner is required")
	}
	title := strings.TrimSpace(input.Title)
	subject := strings.TrimSpace(input.Subject)
	description := strings.TrimSpace(input.Description)
	if err := validatePostFields(title, subject, description); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	post := &models.Post{
		OwnerID:     actor.UserID,
		Title:       title,
		Subject:     subject,
		Description: description,
		Status:      models.PostStatusDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.Publish {
		post.Status = models.PostStatusActive
		post.PublishedAt = &now
	}

	err := db.Try(ctx, func(ctx context.Context) error {
		post.ID = utils.NewID()
		return s.posts.Insert(ctx, post)
	})
	if err != nil {
		return nil, apperr.Internal(err, "failed to insert new post for user %s", actor.UserID)
	}
	return post, nil
}

func (s *postService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	return s.loadPost(ctx, postID)
}

func (s *postService) loadPost(ctx context.Context, postID string) (*models.Post, error) {
	if postID == "" {
		return nil, apperr.Validation("post id is required")
	}
	post, err := s.posts.FindByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("post %s not found", postID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "error finding post %s", postID)
	}
	return post, nil
}

// savePost passes version mismatches through untouched so db.Resolve can retry them.
func (s *postService) savePost(ctx context.Context, post *models.Post) error {
	err := s.posts.Save(ctx, post)
	switch {
	case err == nil, db.IsVersionMismatch(err):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("post %s not found", post.ID)
	default:
		return apperr.Internal(err, "failed to save post %s", post.ID)
	}
}

// ownerTransition moves a Post to status on behalf of its owner. When from is
// non-empty the Post must currently be in one of those statuses. Repeating a
// transition that already happened returns the Post unchanged.
func (s *postService) ownerTransition(ctx context.Context, postID string, actor models.Actor, to models.PostStatus, from []models.PostStatus, stamp func(p *models.Post, now time.Time)) (*models.Post, bool, error) {
	var result *models.Post
	var changed bool
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		changed = false
		post, err := s.loadPost(ctx, postID)
		if err != nil {
			return err
		}
		if !actor.Owns(post.OwnerID) {
			return apperr.Forbidden("post %s does not belong to user %s", postID, actor.UserID)
		}
		if post.Status == to {
			result = post
			return nil
		}
		if !post.Status.CanTransitionTo(to) || (len(from) > 0 && !slices.Contains(from, post.Status)) {
			return apperr.Conflict("post is %s and cannot become %s", post.Status, to)
		}

		now := s.clock.Now()
		post.Status = to
		post.UpdatedAt = now
		if stamp != nil {
			stamp(post, now)
		}
		if err := s.savePost(ctx, post); err != nil {
			return err
		}
		result, changed = post, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (s *postService) PublishPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	post, _, err := s.ownerTransition(ctx, postID, actor, models.PostStatusActive, []models.PostStatus{models.PostStatusDraft}, func(p *models.Post, now time.Time) {
		p.PublishedAt = &now
	})
	return post, err
}

func (s *postService) ClosePost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	post, changed, err := s.ownerTransition(ctx, postID, actor, models.PostStatusClosed, nil, func(p *models.Post, now time.Time) {
		p.ClosedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyApplicants(ctx, post, models.EventPostClosed)
	}
	return post, nil
}

// ReopenPost puts a closed Post back on the market. Rejected Applications stay
// rejected; those tutors must submit again.
func (s *postService) ReopenPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	post, changed, err := s.ownerTransition(ctx, postID, actor, models.PostStatusActive, []models.PostStatus{models.PostStatusClosed}, func(p *models.Post, now time.Time) {
		p.ClosedAt = nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyApplicants(ctx, post, models.EventPostReopened)
	}
	return post, nil
}

func (s *postService) FulfillPost(ctx context.Context, postID string, actor models.Actor) (*models.Post, error) {
	post, changed, err := s.ownerTransition(ctx, postID, actor, models.PostStatusFulfilled, nil, func(p *models.Post, now time.Time) {
		p.FulfilledAt = &now
	})
	if err != nil {
		return nil, err
	}
	if changed && post.AcceptedTutorID != nil {
		s.notifier.notify(ctx, *post.AcceptedTutorID, models.EventPostFulfilled, map[string]string{"post_id": post.ID})
	}
	return post, nil
}

// UpdatePost edits the descriptive fields of a Post that has no accepted tutor.
func (s *postService) UpdatePost(ctx context.Context, postID string, actor models.Actor, update models.PostUpdate) (*models.Post, error) {
	var result *models.Post
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		post, err := s.loadPost(ctx, postID)
		if err != nil {
			return err
		}
		if !actor.Owns(post.OwnerID) {
			return apperr.Forbidden("post %s does not belong to user %s", postID, actor.UserID)
		}
		if post.IsLocked() {
			return apperr.Conflict("post %s has an accepted tutor and cannot be modified", postID)
		}

		if update.Title != nil {
			post.Title = strings.TrimSpace(*update.Title)
		}
		if update.Subject != nil {
			post.Subject = strings.TrimSpace(*update.Subject)
		}
		if update.Description != nil {
			post.Description = strings.TrimSpace(*update.Description)
		}
		if err := validatePostFields(post.Title, post.Subject, post.Description); err != nil {
			return err
		}
		post.UpdatedAt = s.clock.Now()
		if err := s.savePost(ctx, post); err != nil {
			return err
		}
		result = post
		return nil
	})
	return result, err
}

// DeletePost removes a Post without an accepted tutor, then its Applications and ChatRooms.
func (s *postService) DeletePost(ctx context.Context, postID string, actor models.Actor) error {
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		post, err := s.loadPost(ctx, postID)
		if err != nil {
			return err
		}
		if !actor.Owns(post.OwnerID) {
			return apperr.Forbidden("post %s does not belong to user %s", postID, actor.UserID)
		}
		if post.IsLocked() {
			return apperr.Conflict("post %s has an accepted tutor and cannot be deleted", postID)
		}
		err = s.posts.Delete(ctx, post)
		switch {
		case err == nil, db.IsVersionMismatch(err):
			return err
		case errors.Is(err, repository.ErrNotFound):
			return apperr.NotFound("post %s not found", postID)
		default:
			return apperr.Internal(err, "failed to delete post %s", postID)
		}
	})
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	apps, err := s.apps.DeleteByPost(ctx, postID)
	if err != nil {
		s.logger.Error("CRITICAL: post deleted but applications remain", zap.String("post_id", postID), zap.Error(err))
	}
	rooms, err := s.rooms.DeleteByPost(ctx, postID)
	if err != nil {
		s.logger.Error("CRITICAL: post deleted but chat rooms remain", zap.String("post_id", postID), zap.Error(err))
	}
	s.logger.Info("post deleted",
		zap.String("post_id", postID),
		zap.Int64("applications", apps),
		zap.Int64("chat_rooms", rooms))
	return nil
}

// markInterviewing moves an active Post to interviewing. Already interviewing is a no-op.
func (s *postService) markInterviewing(ctx context.Context, postID string) (*models.Post, error) {
	var result *models.Post
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		post, err := s.loadPost(ctx, postID)
		if err != nil {
			return err
		}
		switch post.Status {
		case models.PostStatusInterviewing:
			result = post
			return nil
		case models.PostStatusActive:
		default:
			return apperr.Conflict("post is %s and cannot start interviews", post.Status)
		}
		post.Status = models.PostStatusInterviewing
		post.UpdatedAt = s.clock.Now()
		if err := s.savePost(ctx, post); err != nil {
			return err
		}
		result = post
		return nil
	})
	return result, err
}

// markMatched is the only writer of Post.AcceptedTutorID. Matching the same
// tutor twice is a no-op; matching a second tutor is a Conflict.
func (s *postService) markMatched(ctx context.Context, postID, tutorID string) (*models.Post, error) {
	var result *models.Post
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		post, err := s.loadPost(ctx, postID)
		if err != nil {
			return err
		}
		if post.IsLocked() {
			if *post.AcceptedTutorID == tutorID {
				result = post
				return nil
			}
			return apperr.ErrPostAlreadyMatched
		}
		if !post.Status.CanTransitionTo(models.PostStatusMatched) {
			return apperr.Conflict("post is %s and cannot be matched", post.Status)
		}

		now := s.clock.Now()
		tutor := tutorID
		post.Status = models.PostStatusMatched
		post.AcceptedTutorID = &tutor
		post.MatchedAt = &now
		post.UpdatedAt = now
		if err := s.savePost(ctx, post); err != nil {
			return err
		}
		result = post
		return nil
	})
	return result, err
}

// notifyApplicants tells every tutor with a live Application about a Post event.
func (s *postService) notifyApplicants(ctx context.Context, post *models.Post, event models.EventType) {
	apps, err := s.apps.ListByPost(ctx, post.ID)
	if err != nil {
		s.logger.Warn("failed to list applicants for notification", zap.String("post_id", post.ID), zap.Error(err))
		return
	}
	for _, app := range apps {
		if app.Status.IsTerminal() {
			continue
		}
		s.notifier.notify(ctx, app.TutorID, event, map[string]string{"post_id": post.ID, "application_id": app.ID})
	}
}
