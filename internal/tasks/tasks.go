package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/notify"
	"greendrake/tutormatch/internal/services"
	"greendrake/tutormatch/internal/utils"
)

// TaskType defines the type of a background task.
const (
	TypeNotificationDeliver = "notification:deliver"
	TypeChatElevate         = "chat:elevate"
)

// Queue names.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// --- Task Client (Enqueuing tasks) ---

// Enqueuer is the part of *asynq.Client used to enqueue tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(redisOpt(cfg))
}

// NotificationTaskPayload is the payload of TypeNotificationDeliver.
type NotificationTaskPayload struct {
	RecipientID string            `json:"recipient_id"`
	EventType   models.EventType  `json:"event_type"`
	Payload     map[string]string `json:"payload,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ChatElevateTaskPayload is the payload of TypeChatElevate.
type ChatElevateTaskPayload struct {
	PostID    string `json:"post_id"`
	StudentID string `json:"student_id"`
	TutorID   string `json:"tutor_id"`
}

// Dispatcher enqueues lifecycle notifications for the background worker.
type Dispatcher struct {
	client Enqueuer
	cfg    *config.Config
	clock  utils.Clock
}

var _ services.NotificationDispatcher = (*Dispatcher)(nil)

func NewDispatcher(client Enqueuer, cfg *config.Config, clock utils.Clock) *Dispatcher {
	return &Dispatcher{client: client, cfg: cfg, clock: clock}
}

func (d *Dispatcher) Dispatch(ctx context.Context, recipientID string, eventType models.EventType, payload map[string]string) error {
	data, err := json.Marshal(NotificationTaskPayload{
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   d.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}
	task := asynq.NewTask(TypeNotificationDeliver, data)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(d.cfg.NotificationMaxRetry)); err != nil {
		return fmt.Errorf("failed to enqueue notification %s for %s: %w", eventType, recipientID, err)
	}
	return nil
}

// ElevationScheduler enqueues chat elevation retries. One pending task per
// (post, tutor) pair; scheduling it again while it is queued is a no-op.
type ElevationScheduler struct {
	client Enqueuer
	cfg    *config.Config
}

var _ services.ElevationScheduler = (*ElevationScheduler)(nil)

func NewElevationScheduler(client Enqueuer, cfg *config.Config) *ElevationScheduler {
	return &ElevationScheduler{client: client, cfg: cfg}
}

func (s *ElevationScheduler) ScheduleElevation(ctx context.Context, postID, studentID, tutorID string) error {
	data, err := json.Marshal(ChatElevateTaskPayload{PostID: postID, StudentID: studentID, TutorID: tutorID})
	if err != nil {
		return fmt.Errorf("failed to marshal chat elevation payload: %w", err)
	}
	task := asynq.NewTask(TypeChatElevate, data)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(s.cfg.ChatElevationMaxRetry),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", TypeChatElevate, postID, tutorID)),
		asynq.ProcessIn(time.Second))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue chat elevation for post %s: %w", postID, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	sender      notify.Sender
	chatService services.IChatService
	logger      *zap.Logger
}

func NewTaskProcessor(sender notify.Sender, chatService services.IChatService, logger *zap.Logger) *TaskProcessor {
	return &TaskProcessor{sender: sender, chatService: chatService, logger: logger}
}

// NewServer configures an Asynq server. The caller runs it with NewServeMux.
func NewServer(cfg *config.Config, logger *zap.Logger) *asynq.Server {
	return asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed",
					zap.String("type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err))
			}),
		},
	)
}

// NewServeMux registers every task handler of processor.
func NewServeMux(processor *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotificationDeliver, processor.HandleNotificationTask)
	mux.HandleFunc(TypeChatElevate, processor.HandleChatElevateTask)
	return mux
}

// --- Task Handlers ---

// HandleNotificationTask delivers one notification through the configured sender.
func (p *TaskProcessor) HandleNotificationTask(ctx context.Context, t *asynq.Task) error {
	var payload NotificationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notification task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RecipientID == "" || payload.EventType == "" {
		return fmt.Errorf("notification task without recipient or event: %w", asynq.SkipRetry)
	}

	err := p.sender.Send(ctx, models.Notification{
		RecipientID: payload.RecipientID,
		EventType:   payload.EventType,
		Payload:     payload.Payload,
		CreatedAt:   payload.CreatedAt,
	})
	if err != nil {
		p.logger.Warn("notification delivery failed",
			zap.String("recipient_id", payload.RecipientID),
			zap.String("event_type", string(payload.EventType)),
			zap.Error(err))
		return err
	}
	return nil
}

// HandleChatElevateTask retries elevating a chat room to full after an accept.
func (p *TaskProcessor) HandleChatElevateTask(ctx context.Context, t *asynq.Task) error {
	var payload ChatElevateTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal chat elevation payload: %v: %w", err, asynq.SkipRetry)
	}

	room, err := p.chatService.Upsert(ctx, payload.PostID, payload.StudentID, payload.TutorID, models.ChatKindFull)
	if err != nil {
		if apperr.IsValidation(err) || apperr.IsNotFound(err) || apperr.IsAuthorization(err) {
			return fmt.Errorf("chat elevation for post %s cannot succeed: %v: %w", payload.PostID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("chat elevation for post %s failed: %w", payload.PostID, err)
	}

	p.logger.Info("chat room elevated out of band",
		zap.String("post_id", payload.PostID),
		zap.String("tutor_id", payload.TutorID),
		zap.String("room_id", room.ID))
	return nil
}
