package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/tutormatch/internal/db"
	"greendrake/tutormatch/internal/models"
)

// NewMongoRepositories returns repositories backed by database. Call
// db.EnsureIndexes first; uniqueness relies on those indexes.
func NewMongoRepositories(database *mongo.Database) Repositories {
	return Repositories{
		Posts:        &mongoPostRepository{coll: database.Collection(db.PostsCollection)},
		Applications: &mongoApplicationRepository{coll: database.Collection(db.ApplicationsCollection)},
		ChatRooms:    &mongoChatRoomRepository{coll: database.Collection(db.ChatRoomsCollection)},
	}
}

// translateDuplicate maps a duplicate key error to the sentinel for the index it hit.
func translateDuplicate(err error) error {
	if !db.IsMongoDuplicateKeyError(err) {
		return err
	}
	switch db.DuplicateKeyIndex(err) {
	case db.IndexActiveApplication:
		return ErrDuplicateApplication
	case db.IndexIdempotencyKey:
		return ErrDuplicateIdempotencyKey
	case db.IndexChatRoomPair:
		return ErrDuplicateChatRoom
	default:
		return ErrDuplicateID
	}
}

// compareAndSwap replaces the document with _id=id and version=version by doc.
// On a miss it tells a vanished document apart from a lost race.
func compareAndSwap(ctx context.Context, coll *mongo.Collection, id string, version int64, doc interface{}) error {
	res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		return translateDuplicate(err)
	}
	if res.MatchedCount == 0 {
		return missOrMismatch(ctx, coll, id)
	}
	return nil
}

func missOrMismatch(ctx context.Context, coll *mongo.Collection, id string) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to check existence of %s in %s: %w", id, coll.Name(), err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return db.ErrVersionMismatch
}

// validatable is implemented by every stored model; decoded documents with an
// unknown status or kind are refused instead of being handed to the services.
type validatable interface {
	Validate() error
}

func findOne[T any, PT interface {
	*T
	validatable
}](ctx context.Context, coll *mongo.Collection, filter bson.M) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding document in %s: %w", coll.Name(), err)
	}
	if err := PT(&out).Validate(); err != nil {
		return nil, fmt.Errorf("invalid document in %s: %w", coll.Name(), err)
	}
	return &out, nil
}

type mongoPostRepository struct {
	coll *mongo.Collection
}

func (r *mongoPostRepository) Insert(ctx context.Context, post *models.Post) error {
	if _, err := r.coll.InsertOne(ctx, post); err != nil {
		return translateDuplicate(err)
	}
	return nil
}

func (r *mongoPostRepository) FindByID(ctx context.Context, id string) (*models.Post, error) {
	return findOne[models.Post](ctx, r.coll, bson.M{"_id": id})
}

func (r *mongoPostRepository) Save(ctx context.Context, post *models.Post) error {
	next := post.Clone()
	next.Version = post.Version + 1
	if err := compareAndSwap(ctx, r.coll, post.ID, post.Version, next); err != nil {
		return err
	}
	post.Version = next.Version
	return nil
}

func (r *mongoPostRepository) Delete(ctx context.Context, post *models.Post) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": post.ID, "version": post.Version})
	if err != nil {
		return fmt.Errorf("failed to delete post %s: %w", post.ID, err)
	}
	if res.DeletedCount == 0 {
		return missOrMismatch(ctx, r.coll, post.ID)
	}
	return nil
}

type mongoApplicationRepository struct {
	coll *mongo.Collection
}

func (r *mongoApplicationRepository) Insert(ctx context.Context, app *models.Application) error {
	if _, err := r.coll.InsertOne(ctx, app); err != nil {
		return translateDuplicate(err)
	}
	return nil
}

func (r *mongoApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	return findOne[models.Application](ctx, r.coll, bson.M{"_id": id})
}

func (r *mongoApplicationRepository) FindByIdempotencyKey(ctx context.Context, scopedKey string) (*models.Application, error) {
	return findOne[models.Application](ctx, r.coll, bson.M{"idempotency_key": scopedKey})
}

func (r *mongoApplicationRepository) ListByPost(ctx context.Context, postID string) ([]*models.Application, error) {
	opts := options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"post_id": postID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications for post %s: %w", postID, err)
	}
	defer cursor.Close(ctx)

	var apps []*models.Application
	if err := cursor.All(ctx, &apps); err != nil {
		return nil, fmt.Errorf("failed to decode applications for post %s: %w", postID, err)
	}
	for _, app := range apps {
		if err := app.Validate(); err != nil {
			return nil, fmt.Errorf("invalid document in %s: %w", r.coll.Name(), err)
		}
	}
	return apps, nil
}

func (r *mongoApplicationRepository) Save(ctx context.Context, app *models.Application) error {
	next := app.Clone()
	next.Version = app.Version + 1
	if err := compareAndSwap(ctx, r.coll, app.ID, app.Version, next); err != nil {
		return err
	}
	app.Version = next.Version
	return nil
}

func (r *mongoApplicationRepository) DeleteByPost(ctx context.Context, postID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"post_id": postID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete applications for post %s: %w", postID, err)
	}
	return res.DeletedCount, nil
}

type mongoChatRoomRepository struct {
	coll *mongo.Collection
}

func (r *mongoChatRoomRepository) Insert(ctx context.Context, room *models.ChatRoom) error {
	if _, err := r.coll.InsertOne(ctx, room); err != nil {
		return translateDuplicate(err)
	}
	return nil
}

func (r *mongoChatRoomRepository) FindByPair(ctx context.Context, postID, tutorID string) (*models.ChatRoom, error) {
	return findOne[models.ChatRoom](ctx, r.coll, bson.M{"post_id": postID, "tutor_id": tutorID})
}

func (r *mongoChatRoomRepository) Save(ctx context.Context, room *models.ChatRoom) error {
	next := room.Clone()
	next.Version = room.Version + 1
	if err := compareAndSwap(ctx, r.coll, room.ID, room.Version, next); err != nil {
		return err
	}
	room.Version = next.Version
	return nil
}

func (r *mongoChatRoomRepository) DeleteByPost(ctx context.Context, postID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"post_id": postID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chat rooms for post %s: %w", postID, err)
	}
	return res.DeletedCount, nil
}
