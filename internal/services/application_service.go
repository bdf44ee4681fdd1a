package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/repository"
	"greendrake/tutormatch/internal/utils"
)

const defaultRejectionReason = "rejected by owner"

// IApplicationService defines tutor submissions and the owner's decisions on them.
type IApplicationService interface {
	Submit(ctx context.Context, actor models.Actor, input SubmitInput) (*models.Application, error)
	Transition(ctx context.Context, applicationID string, action models.ApplicationAction, actor models.Actor, reason string) (*models.Application, error)
	GetApplication(ctx context.Context, applicationID string, actor models.Actor) (*models.Application, error)
	ListApplications(ctx context.Context, postID string, actor models.Actor) ([]*models.Application, error)
}

// SubmitInput carries a tutor's bid. IdempotencyKey is optional.
type SubmitInput struct {
	PostID         string `json:"post_id"`
	Pitch          string `json:"pitch"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type applicationService struct {
	apps      repository.ApplicationRepository
	posts     postMatcher
	chat      IChatService
	scheduler ElevationScheduler
	cfg       *config.Config
	clock     utils.Clock
	notifier  notifier
	logger    *zap.Logger
}

// NewApplicationService creates a new ApplicationService. scheduler may be nil,
// in which case failed chat elevations are only logged.
func NewApplicationService(repos repository.Repositories, chat IChatService, scheduler ElevationScheduler, cfg *config.Config, clock utils.Clock, dispatcher NotificationDispatcher, logger *zap.Logger) IApplicationService {
	return &applicationService{
		apps:      repos.Applications,
		posts:     newPostService(repos, cfg, clock, dispatcher, logger),
		chat:      chat,
		scheduler: scheduler,
		cfg:       cfg,
		clock:     clock,
		notifier:  notifier{dispatcher: dispatcher, logger: logger},
		logger:    logger,
	}
}

// Submit creates a Submitted Application for the acting tutor. With an
// idempotency key, a repeated call returns the Application the first call made.
func (s *applicationService) Submit(ctx context.Context, actor models.Actor, input SubmitInput) (*models.Application, error) {
	tutorID := actor.UserID
	pitch := strings.TrimSpace(input.Pitch)
	switch {
	case tutorID == "":
		return nil, apperr.Validation("tutor is required")
	case input.PostID == "":
		return nil, apperr.Validation("post id is required")
	case pitch == "":
		return nil, apperr.Validation("pitch is required")
	case utf8.RuneCountInString(pitch) > s.cfg.PitchMaxLength:
		return nil, apperr.Validation("pitch must be at most %d characters", s.cfg.PitchMaxLength)
	}

	var scopedKey *string
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		k := models.ScopedIdempotencyKey(tutorID, key)
		scopedKey = &k
		existing, err := s.replay(ctx, k, tutorID, input.PostID)
		if existing != nil || err != nil {
			return existing, err
		}
	}

	post, err := s.posts.loadPost(ctx, input.PostID)
	if err != nil {
		return nil, err
	}
	if post.OwnerID == tutorID {
		return nil, apperr.ErrSelfApplication
	}
	if !post.Status.AcceptsApplications() {
		return nil, apperr.Conflict("post is %s and not accepting applications", post.Status)
	}

	activeKey := models.ActiveApplicationKey(post.ID, tutorID)
	app := &models.Application{
		ID:             utils.NewID(),
		PostID:         post.ID,
		TutorID:        tutorID,
		Status:         models.ApplicationStatusSubmitted,
		Pitch:          pitch,
		ActiveKey:      &activeKey,
		IdempotencyKey: scopedKey,
		SubmittedAt:    s.clock.Now(),
		Version:        1,
	}

	err = s.apps.Insert(ctx, app)
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) || errors.Is(err, repository.ErrDuplicateApplication) {
		// A concurrent call with the same key may have won either index.
		if scopedKey != nil {
			if existing, rerr := s.replay(ctx, *scopedKey, tutorID, input.PostID); existing != nil || rerr != nil {
				return existing, rerr
			}
		}
		return nil, apperr.ErrApplicationExists
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to insert application for post %s", post.ID)
	}

	s.notifier.notify(ctx, post.OwnerID, models.EventApplicationSubmitted, map[string]string{
		"post_id":        post.ID,
		"application_id": app.ID,
		"tutor_id":       tutorID,
	})
	return app, nil
}

// replay returns the Application tutorID previously created under scopedKey, or nil if there is none.
func (s *applicationService) replay(ctx context.Context, scopedKey, tutorID, postID string) (*models.Application, error) {
	existing, err := s.apps.FindByIdempotencyKey(ctx, scopedKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to look up idempotency key")
	}
	if existing.TutorID != tutorID {
		return nil, apperr.ErrIdempotencyKeyOwner
	}
	if existing.PostID != postID {
		return nil, apperr.ErrIdempotencyKeyReuse
	}
	return existing, nil
}

// Transition applies an owner decision to an Application.
func (s *applicationService) Transition(ctx context.Context, applicationID string, action models.ApplicationAction, actor models.Actor, reason string) (*models.Application, error) {
	if applicationID == "" {
		return nil, apperr.Validation("application id is required")
	}
	switch action {
	case models.ActionShortlist:
		return s.shortlist(ctx, applicationID, actor)
	case models.ActionAccept:
		return s.accept(ctx, applicationID, actor)
	case models.ActionReject:
		return s.reject(ctx, applicationID, actor, reason)
	default:
		return nil, apperr.Validation("unknown application action %q", action)
	}
}

func (s *applicationService) loadApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	app, err := s.apps.FindByID(ctx, applicationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("application %s not found", applicationID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "error finding application %s", applicationID)
	}
	return app, nil
}

func (s *applicationService) saveApplication(ctx context.Context, app *models.Application) error {
	err := s.apps.Save(ctx, app)
	switch {
	case err == nil, db.IsVersionMismatch(err):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("application %s not found", app.ID)
	case errors.Is(err, repository.ErrDuplicateApplication):
		return apperr.ErrApplicationExists
	default:
		return apperr.Internal(err, "failed to save application %s", app.ID)
	}
}

// ownedPost loads the Post of app and checks that actor may decide on it.
func (s *applicationService) ownedPost(ctx context.Context, app *models.Application, actor models.Actor) (*models.Post, error) {
	post, err := s.posts.loadPost(ctx, app.PostID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(post.OwnerID) {
		return nil, apperr.Forbidden("post %s does not belong to user %s", post.ID, actor.UserID)
	}
	return post, nil
}

// shortlist moves a Submitted Application to Shortlisted, starts interviews on
// the Post and opens the interview room. Shortlisting an already Shortlisted
// Application re-runs the follow-up steps only.
func (s *applicationService) shortlist(ctx context.Context, applicationID string, actor models.Actor) (*models.Application, error) {
	var app *models.Application
	var post *models.Post
	var changed bool
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		changed = false
		a, err := s.loadApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		p, err := s.ownedPost(ctx, a, actor)
		if err != nil {
			return err
		}
		if a.Status == models.ApplicationStatusShortlisted {
			app, post = a, p
			return nil
		}
		if !a.Status.CanTransitionTo(models.ActionShortlist.Target()) {
			return apperr.Conflict("application is %s and cannot be shortlisted", a.Status)
		}
		if !p.Status.AcceptsApplications() {
			return apperr.Conflict("post is %s and cannot shortlist applications", p.Status)
		}

		now := s.clock.Now()
		a.Status = models.ApplicationStatusShortlisted
		a.ShortlistedAt = &now
		if err := s.saveApplication(ctx, a); err != nil {
			return err
		}
		app, post, changed = a, p, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	interviewing, err := s.posts.markInterviewing(ctx, post.ID)
	switch {
	case err == nil:
		if _, err := s.chat.Upsert(ctx, interviewing.ID, interviewing.OwnerID, app.TutorID, models.ChatKindInterview); err != nil {
			return nil, err
		}
	case s.postLeftMarket(ctx, post.ID):
		// The Application is already Shortlisted; a Post closed or matched in
		// the meantime gets no interview room.
		s.logger.Warn("post left the market after shortlist, interview room skipped",
			zap.String("post_id", post.ID),
			zap.String("application_id", app.ID),
			zap.Error(err))
	default:
		return nil, err
	}

	if changed {
		s.notifier.notify(ctx, app.TutorID, models.EventApplicationShortlisted, map[string]string{
			"post_id":        post.ID,
			"application_id": app.ID,
		})
	}
	return app, nil
}

// postLeftMarket reports whether the Post no longer takes applications.
func (s *applicationService) postLeftMarket(ctx context.Context, postID string) bool {
	post, err := s.posts.loadPost(ctx, postID)
	if err != nil {
		return apperr.IsNotFound(err)
	}
	return !post.Status.AcceptsApplications()
}

// accept runs the acceptance saga:
//
//	(a) mark the Application Accepted
//	(b) reject every other live Application on the Post
//	(c) match the Post to the tutor, the commit point
//	(d) elevate the chat room to full
//
// A failure at (b) or (c) compensates (a) before returning. After (c) the
// siblings are swept again, this time compensating any other Accepted one left
// by a saga that never finished. A failure at (d) is handed to the elevation
// scheduler and does not fail the call.
func (s *applicationService) accept(ctx context.Context, applicationID string, actor models.Actor) (*models.Application, error) {
	app, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	post, err := s.ownedPost(ctx, app, actor)
	if err != nil {
		return nil, err
	}

	if app.Status == models.ApplicationStatusAccepted && post.IsLocked() && *post.AcceptedTutorID == app.TutorID {
		// Already committed: finish whatever a previous attempt left undone.
		ctx = context.WithoutCancel(ctx)
		if _, err := s.rejectSiblings(ctx, post.ID, app.ID, true); err != nil {
			s.logger.Warn("failed to reject siblings on accept replay", zap.String("post_id", post.ID), zap.Error(err))
		}
		s.elevateChat(ctx, post, app)
		return app, nil
	}

	switch app.Status {
	case models.ApplicationStatusShortlisted:
		if post.IsLocked() {
			return nil, apperr.ErrPostAlreadyMatched
		}
	case models.ApplicationStatusAccepted:
		// A previous attempt stopped between (a) and (c).
		if post.IsLocked() {
			s.compensateAccept(context.WithoutCancel(ctx), app)
			return nil, apperr.ErrPostAlreadyMatched
		}
	default:
		return nil, s.notAcceptable(app)
	}

	switch post.Status {
	case models.PostStatusActive:
		if _, err := s.posts.markInterviewing(ctx, post.ID); err != nil {
			return nil, err
		}
	case models.PostStatusInterviewing:
	default:
		return nil, apperr.Conflict("post is %s and cannot accept applications", post.Status)
	}

	// (a)
	app, err = s.markAccepted(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	// (b)
	rejected, err := s.rejectSiblings(ctx, app.PostID, app.ID, false)
	if err != nil {
		s.compensateAccept(ctx, app)
		return nil, err
	}

	// (c)
	post, err = s.posts.markMatched(ctx, app.PostID, app.TutorID)
	if err != nil {
		s.compensateAccept(ctx, app)
		return nil, err
	}

	// Submissions that raced the commit, and stale Accepted siblings.
	late, err := s.rejectSiblings(ctx, post.ID, app.ID, true)
	if err != nil {
		s.logger.Warn("failed to reject late applications after match", zap.String("post_id", post.ID), zap.Error(err))
	}
	rejected = append(rejected, late...)

	// (d)
	s.elevateChat(ctx, post, app)

	s.notifier.notify(ctx, app.TutorID, models.EventApplicationAccepted, map[string]string{
		"post_id":        post.ID,
		"application_id": app.ID,
	})
	s.notifier.notify(ctx, post.OwnerID, models.EventPostMatched, map[string]string{
		"post_id":  post.ID,
		"tutor_id": app.TutorID,
	})
	for _, r := range rejected {
		s.notifyRejected(ctx, r)
	}
	return app, nil
}

// notAcceptable explains why app cannot be accepted. A bid rejected because
// another tutor took the position reports that instead of its own status.
func (s *applicationService) notAcceptable(app *models.Application) error {
	if app.Status == models.ApplicationStatusRejected && app.RejectionReason == models.RejectionReasonPositionFilled {
		return apperr.ErrPostAlreadyMatched
	}
	return apperr.Conflict("application is %s and cannot be accepted", app.Status)
}

// markAccepted is step (a). An Application that is already Accepted is returned as is.
func (s *applicationService) markAccepted(ctx context.Context, applicationID string) (*models.Application, error) {
	var result *models.Application
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		app, err := s.loadApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Status == models.ApplicationStatusAccepted {
			result = app
			return nil
		}
		if !app.Status.CanTransitionTo(models.ActionAccept.Target()) {
			return s.notAcceptable(app)
		}

		now := s.clock.Now()
		app.Status = models.ApplicationStatusAccepted
		app.AcceptedAt = &now
		if err := s.saveApplication(ctx, app); err != nil {
			return err
		}
		result = app
		return nil
	})
	return result, err
}

// compensateAccept undoes step (a) after the saga failed before committing.
// The Application goes back to Shortlisted, or to Rejected when the Post has
// meanwhile been matched to someone else. It returns the Application as stored
// and whether it changed.
func (s *applicationService) compensateAccept(ctx context.Context, app *models.Application) (*models.Application, bool, error) {
	var result *models.Application
	var changed bool
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		changed = false
		current, err := s.loadApplication(ctx, app.ID)
		if err != nil {
			return err
		}
		result = current
		if current.Status != models.ApplicationStatusAccepted {
			return nil
		}
		post, err := s.posts.loadPost(ctx, current.PostID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch {
		case post.IsLocked() && *post.AcceptedTutorID == current.TutorID:
			return nil
		case post.IsLocked():
			current.Status = models.ApplicationStatusRejected
			current.RejectionReason = models.RejectionReasonPositionFilled
			current.RejectedAt = &now
			current.ActiveKey = nil
		default:
			current.Status = models.ApplicationStatusShortlisted
			current.AcceptedAt = nil
		}
		if err := s.saveApplication(ctx, current); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		s.logger.Error("CRITICAL: failed to compensate accepted application",
			zap.String("application_id", app.ID),
			zap.String("post_id", app.PostID),
			zap.Error(err))
	}
	return result, changed, err
}

// rejectSiblings is step (b): every other live Application on the Post is
// rejected as "position filled". Before the commit an Accepted sibling belongs
// to a racing saga and is skipped. Once committed, the Post names its tutor and
// any other Accepted sibling is compensated, which rejects it.
func (s *applicationService) rejectSiblings(ctx context.Context, postID, keepID string, committed bool) ([]*models.Application, error) {
	apps, err := s.apps.ListByPost(ctx, postID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list applications for post %s", postID)
	}
	var rejected []*models.Application
	for _, sibling := range apps {
		if sibling.ID == keepID {
			continue
		}
		if committed && sibling.Status == models.ApplicationStatusAccepted {
			app, changed, err := s.compensateAccept(ctx, sibling)
			if err != nil {
				return rejected, err
			}
			if changed && app.Status == models.ApplicationStatusRejected {
				rejected = append(rejected, app)
			}
			continue
		}
		if sibling.Status.IsTerminal() {
			continue
		}
		app, changed, err := s.markRejected(ctx, sibling.ID, models.RejectionReasonPositionFilled, false)
		if err != nil {
			return rejected, err
		}
		if changed {
			rejected = append(rejected, app)
		}
	}
	return rejected, nil
}

// markRejected rejects one Application. Rejecting a Rejected Application is a
// no-op. An Accepted one is a Conflict when strict and skipped otherwise.
func (s *applicationService) markRejected(ctx context.Context, applicationID, reason string, strict bool) (*models.Application, bool, error) {
	var result *models.Application
	var changed bool
	err := db.Resolve(ctx, s.cfg.ConflictMaxRetries, func(ctx context.Context) error {
		changed = false
		app, err := s.loadApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		switch {
		case app.Status == models.ApplicationStatusRejected:
			result = app
			return nil
		case app.Status == models.ApplicationStatusAccepted && !strict:
			result = app
			return nil
		case !app.Status.CanTransitionTo(models.ActionReject.Target()):
			return apperr.Conflict("application is %s and cannot be rejected", app.Status)
		}

		now := s.clock.Now()
		app.Status = models.ApplicationStatusRejected
		app.RejectionReason = reason
		app.RejectedAt = &now
		app.ActiveKey = nil
		if err := s.saveApplication(ctx, app); err != nil {
			return err
		}
		result, changed = app, true
		return nil
	})
	return result, changed, err
}

func (s *applicationService) reject(ctx context.Context, applicationID string, actor models.Actor, reason string) (*models.Application, error) {
	app, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedPost(ctx, app, actor); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultRejectionReason
	}
	app, changed, err := s.markRejected(ctx, applicationID, reason, true)
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyRejected(ctx, app)
	}
	return app, nil
}

// elevateChat is step (d). Failures are scheduled for retry, never returned.
func (s *applicationService) elevateChat(ctx context.Context, post *models.Post, app *models.Application) {
	_, err := s.chat.Upsert(ctx, post.ID, post.OwnerID, app.TutorID, models.ChatKindFull)
	if err == nil {
		return
	}
	s.logger.Warn("chat elevation failed, scheduling retry",
		zap.String("post_id", post.ID),
		zap.String("tutor_id", app.TutorID),
		zap.Error(err))
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleElevation(ctx, post.ID, post.OwnerID, app.TutorID); err != nil {
		s.logger.Error("CRITICAL: failed to schedule chat elevation",
			zap.String("post_id", post.ID),
			zap.String("tutor_id", app.TutorID),
			zap.Error(err))
	}
}

func (s *applicationService) notifyRejected(ctx context.Context, app *models.Application) {
	s.notifier.notify(ctx, app.TutorID, models.EventApplicationRejected, map[string]string{
		"post_id":        app.PostID,
		"application_id": app.ID,
		"reason":         app.RejectionReason,
	})
}

// GetApplication returns an Application to its tutor, the Post owner or an admin.
func (s *applicationService) GetApplication(ctx context.Context, applicationID string, actor models.Actor) (*models.Application, error) {
	app, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.TutorID == actor.UserID {
		return app, nil
	}
	if _, err := s.ownedPost(ctx, app, actor); err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications returns every Application on a Post to its owner or an admin.
func (s *applicationService) ListApplications(ctx context.Context, postID string, actor models.Actor) ([]*models.Application, error) {
	post, err := s.posts.loadPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(post.OwnerID) {
		return nil, apperr.Forbidden("post %s does not belong to user %s", postID, actor.UserID)
	}
	apps, err := s.apps.ListByPost(ctx, postID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list applications for post %s", postID)
	}
	return apps, nil
}
