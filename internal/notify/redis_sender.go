package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/models"
)

const (
	mockKeyPrefix = "mocknotify:"
	mockTTL       = 5 * time.Minute
)

// ListStore is the subset of *redis.Client the mock outbox uses.
type ListStore interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisSender keeps notifications in a per-recipient Redis list instead of
// delivering them, so integration tests can read them back.
type RedisSender struct {
	client ListStore
	logger *zap.Logger
}

func NewRedisSender(client ListStore, logger *zap.Logger) *RedisSender {
	return &RedisSender{client: client, logger: logger}
}

func mockKey(recipientID string) string {
	return mockKeyPrefix + recipientID
}

func (s *RedisSender) Send(ctx context.Context, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := mockKey(n.RecipientID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to store notification in Redis key '%s': %w", key, err)
	}
	if err := s.client.Expire(ctx, key, mockTTL).Err(); err != nil {
		return fmt.Errorf("failed to set TTL on Redis key '%s': %w", key, err)
	}

	s.logger.Debug("mock notification stored",
		zap.String("key", key),
		zap.String("event_type", string(n.EventType)))
	return nil
}

// Recent returns the notifications stored for recipientID, oldest first.
func (s *RedisSender) Recent(ctx context.Context, recipientID string) ([]models.Notification, error) {
	key := mockKey(recipientID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis key '%s': %w", key, err)
	}
	out := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, fmt.Errorf("corrupt notification in '%s': %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}
