package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/model"
)

// SessionSink receives replayed session snapshots. Both writes must be idempotent.
type SessionSink interface {
	SaveSession(ctx context.Context, s *model.ExamSession) error
	RecordResult(ctx context.Context, s *model.ExamSession) error
}

// SessionBacklog queues session snapshots whose Store write failed.
type SessionBacklog struct {
	rdb *redis.Client
}

func NewSessionBacklog(rdb *redis.Client) *SessionBacklog {
	return &SessionBacklog{rdb: rdb}
}

// Defer pushes a snapshot for the SessionSyncWorker to replay.
func (b *SessionBacklog) Defer(ctx context.Context, s *model.ExamSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return b.rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, data).Err()
}

// SessionSyncWorker replays queued session snapshots into the Store until they stick.
type SessionSyncWorker struct {
	sink       SessionSink
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

func NewSessionSyncWorker(sink SessionSink, rdb *redis.Client, log zerolog.Logger) *SessionSyncWorker {
	return &SessionSyncWorker{
		sink:       sink,
		rdb:        rdb,
		log:        log.With().Str("component", "session_sync_worker").Logger(),
		retryDelay: 5 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SessionSyncWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(shutdownCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SessionSyncWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistSessionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleep(ctx, time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.replay(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Replay failed, retrying later")
		w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistSessionsQueue, result[1])
		sleep(ctx, w.retryDelay)
	}
}

// replay writes one snapshot. Malformed payloads are dropped.
func (w *SessionSyncWorker) replay(ctx context.Context, data string) error {
	var s model.ExamSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		w.log.Error().Err(err).Msg("Discarding malformed session snapshot")
		return nil
	}
	if err := w.sink.SaveSession(ctx, &s); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	if s.IsSubmitted {
		if err := w.sink.RecordResult(ctx, &s); err != nil {
			return fmt.Errorf("record result %s: %w", s.ID, err)
		}
	}
	w.log.Info().
		Str("session_id", s.ID.String()).
		Int64("version", s.Version).
		Str("phase", string(s.CurrentPhase)).
		Msg("Session snapshot replayed")
	return nil
}

// drain replays everything left in the queue before shutdown.
func (w *SessionSyncWorker) drain(ctx context.Context) {
	drained := 0
	for {
		data, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSessionsQueue).Result()
		if err != nil {
			break
		}
		if err := w.replay(ctx, data); err != nil {
			w.log.Error().Err(err).Msg("Drain replay error")
			w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistSessionsQueue, data)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
