package repository

import (
	"context"
	"sort"
	"sync"

	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
)

// NewMemoryRepositories returns in-process repositories with the same
// conditional-write and uniqueness semantics as the MongoDB ones.
// The mutexes cover single document operations only.
func NewMemoryRepositories() Repositories {
	return Repositories{
		Posts:        &memoryPostRepository{posts: make(map[string]*models.Post)},
		Applications: &memoryApplicationRepository{apps: make(map[string]*models.Application)},
		ChatRooms:    &memoryChatRoomRepository{rooms: make(map[string]*models.ChatRoom)},
	}
}

type memoryPostRepository struct {
	mu    sync.RWMutex
	posts map[string]*models.Post
}

func (r *memoryPostRepository) Insert(_ context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.posts[post.ID]; ok {
		return ErrDuplicateID
	}
	r.posts[post.ID] = post.Clone()
	return nil
}

func (r *memoryPostRepository) FindByID(_ context.Context, id string) (*models.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (r *memoryPostRepository) Save(_ context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.posts[post.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != post.Version {
		return db.ErrVersionMismatch
	}
	post.Version++
	r.posts[post.ID] = post.Clone()
	return nil
}

func (r *memoryPostRepository) Delete(_ context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.posts[post.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != post.Version {
		return db.ErrVersionMismatch
	}
	delete(r.posts, post.ID)
	return nil
}

type memoryApplicationRepository struct {
	mu   sync.RWMutex
	apps map[string]*models.Application
}

// conflictsLocked checks the partial unique constraints against every other document.
func (r *memoryApplicationRepository) conflictsLocked(app *models.Application) error {
	for id, other := range r.apps {
		if id == app.ID {
			continue
		}
		if app.ActiveKey != nil && other.ActiveKey != nil && *app.ActiveKey == *other.ActiveKey {
			return ErrDuplicateApplication
		}
		if app.IdempotencyKey != nil && other.IdempotencyKey != nil && *app.IdempotencyKey == *other.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
	}
	return nil
}

func (r *memoryApplicationRepository) Insert(_ context.Context, app *models.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app.ID]; ok {
		return ErrDuplicateID
	}
	if err := r.conflictsLocked(app); err != nil {
		return err
	}
	r.apps[app.ID] = app.Clone()
	return nil
}

func (r *memoryApplicationRepository) FindByID(_ context.Context, id string) (*models.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (r *memoryApplicationRepository) FindByIdempotencyKey(_ context.Context, scopedKey string) (*models.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.apps {
		if a.IdempotencyKey != nil && *a.IdempotencyKey == scopedKey {
			return a.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryApplicationRepository) ListByPost(_ context.Context, postID string) ([]*models.Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Application
	for _, a := range r.apps {
		if a.PostID == postID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (r *memoryApplicationRepository) Save(_ context.Context, app *models.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.apps[app.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != app.Version {
		return db.ErrVersionMismatch
	}
	if err := r.conflictsLocked(app); err != nil {
		return err
	}
	app.Version++
	r.apps[app.ID] = app.Clone()
	return nil
}

func (r *memoryApplicationRepository) DeleteByPost(_ context.Context, postID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.apps {
		if a.PostID == postID {
			delete(r.apps, id)
			n++
		}
	}
	return n, nil
}

type memoryChatRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*models.ChatRoom
}

func (r *memoryChatRoomRepository) Insert(_ context.Context, room *models.ChatRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return ErrDuplicateID
	}
	for _, other := range r.rooms {
		if other.PostID == room.PostID && other.TutorID == room.TutorID {
			return ErrDuplicateChatRoom
		}
	}
	r.rooms[room.ID] = room.Clone()
	return nil
}

func (r *memoryChatRoomRepository) FindByPair(_ context.Context, postID, tutorID string) (*models.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		if room.PostID == postID && room.TutorID == tutorID {
			return room.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryChatRoomRepository) Save(_ context.Context, room *models.ChatRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rooms[room.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != room.Version {
		return db.ErrVersionMismatch
	}
	room.Version++
	r.rooms[room.ID] = room.Clone()
	return nil
}

func (r *memoryChatRoomRepository) DeleteByPost(_ context.Context, postID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, room := range r.rooms {
		if room.PostID == postID {
			delete(r.rooms, id)
			n++
		}
	}
	return n, nil
}
