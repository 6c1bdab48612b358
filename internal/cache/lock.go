// Package cache holds Redis-backed coordination helpers.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// StartLock is a per-student lock held while an exam session is being created.
type StartLock struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func NewStartLock(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *StartLock {
	return &StartLock{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "start_lock").Logger(),
	}
}

// Acquire takes the lock for studentID. It reports false when someone else holds it.
// The returned release func is safe to call once the lock has expired.
func (l *StartLock) Acquire(ctx context.Context, studentID uuid.UUID) (bool, func(), error) {
	key := config.CacheKey.StudentStartLockKey(studentID)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("student_id", studentID.String()).Msg("Failed to release start lock")
		}
	}
	return true, release, nil
}
