// Package repository persists Posts, Applications and ChatRooms with
// per-document compare-and-swap writes.
//
// Every Save is conditioned on the Version the caller read: the stored document
// is replaced only if its version still matches, and the caller's copy is then
// bumped. A lost race surfaces as db.ErrVersionMismatch.
package repository

import (
	"context"
	"errors"

	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
)

var (
	ErrNotFound                = errors.New("document not found")
	ErrDuplicateID             = db.ErrDuplicateID
	ErrDuplicateApplication    = errors.New("active application already exists for post and tutor")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrDuplicateChatRoom       = errors.New("chat room already exists for post and tutor")
)

type PostRepository interface {
	Insert(ctx context.Context, post *models.Post) error
	FindByID(ctx context.Context, id string) (*models.Post, error)
	Save(ctx context.Context, post *models.Post) error
	// Delete removes the Post if its version still matches.
	Delete(ctx context.Context, post *models.Post) error
}

type ApplicationRepository interface {
	Insert(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	FindByIdempotencyKey(ctx context.Context, scopedKey string) (*models.Application, error)
	ListByPost(ctx context.Context, postID string) ([]*models.Application, error)
	Save(ctx context.Context, app *models.Application) error
	DeleteByPost(ctx context.Context, postID string) (int64, error)
}

type ChatRoomRepository interface {
	Insert(ctx context.Context, room *models.ChatRoom) error
	FindByPair(ctx context.Context, postID, tutorID string) (*models.ChatRoom, error)
	Save(ctx context.Context, room *models.ChatRoom) error
	DeleteByPost(ctx context.Context, postID string) (int64, error)
}

// Repositories groups the three stores the lifecycle services work against.
type Repositories struct {
	Posts        PostRepository
	Applications ApplicationRepository
	ChatRooms    ChatRoomRepository
}
