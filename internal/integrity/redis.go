package integrity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/model"
)

// RedisNotifier publishes notifications on the session channel and the class monitor channel.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Notify(ctx context.Context, note Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.SessionChannel(note.SessionID), data)
	pipe.Publish(ctx, config.CacheKey.ClassMonitorChannel(note.Class), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe listens on one session's channel. The caller closes the returned PubSub.
func (n *RedisNotifier) Subscribe(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	return n.rdb.Subscribe(ctx, config.CacheKey.SessionChannel(sessionID))
}

// SubscribeClass listens on a class-wide proctoring feed.
func (n *RedisNotifier) SubscribeClass(ctx context.Context, class string) *redis.PubSub {
	return n.rdb.Subscribe(ctx, config.CacheKey.ClassMonitorChannel(class))
}

// RedisEventLog queues events for the integrity worker, which bulk-copies them into Postgres.
type RedisEventLog struct {
	rdb *redis.Client
}

func NewRedisEventLog(rdb *redis.Client) *RedisEventLog {
	return &RedisEventLog{rdb: rdb}
}

func (l *RedisEventLog) Append(ctx context.Context, e model.IntegrityEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return l.rdb.RPush(ctx, config.WorkerKey.PersistIntegrityQueue, data).Err()
}
