package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Collection names.
const (
	PostsCollection        = "posts"
	ApplicationsCollection = "applications"
	ChatRoomsCollection    = "chat_rooms"
)

// Index names, referenced when translating duplicate key errors.
const (
	IndexActiveApplication = "uniq_active_application"
	IndexIdempotencyKey    = "uniq_idempotency_key"
	IndexChatRoomPair      = "uniq_post_tutor"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string, logger *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB", zap.String("database", dbName))
	return client, client.Database(dbName), nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client, logger *zap.Logger) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	logger.Info("MongoDB connection closed")
	return nil
}

// EnsureIndexes creates the indexes the repositories rely on for uniqueness.
// Partial indexes skip documents where the keyed field is absent, so a
// terminal Application (active_key unset) never collides with a fresh one.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	exists := func(field string) bson.D {
		return bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: true}}}}
	}

	indexes := map[string][]mongo.IndexModel{
		PostsCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		ApplicationsCollection: {
			{Keys: bson.D{{Key: "post_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "tutor_id", Value: 1}}},
			{
				Keys: bson.D{{Key: "active_key", Value: 1}},
				Options: options.Index().
					SetName(IndexActiveApplication).
					SetUnique(true).
					SetPartialFilterExpression(exists("active_key")),
			},
			{
				Keys: bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetName(IndexIdempotencyKey).
					SetUnique(true).
					SetPartialFilterExpression(exists("idempotency_key")),
			},
		},
		ChatRoomsCollection: {
			{
				Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "tutor_id", Value: 1}},
				Options: options.Index().SetName(IndexChatRoomPair).SetUnique(true),
			},
		},
	}

	for collection, models := range indexes {
		if _, err := database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
