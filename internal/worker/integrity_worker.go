package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventSink stores integrity events. Implemented by repository.IntegrityRepository.
type EventSink interface {
	CopyEvents(ctx context.Context, events []model.IntegrityEvent) (int64, error)
	Insert(ctx context.Context, e *model.IntegrityEvent) error
}

// IntegrityWorker moves queued integrity events from Redis into Postgres in batches.
type IntegrityWorker struct {
	sink       EventSink
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

func NewIntegrityWorker(sink EventSink, rdb *redis.Client, log zerolog.Logger) *IntegrityWorker {
	return &IntegrityWorker{
		sink:       sink,
		rdb:        rdb,
		log:        log.With().Str("component", "integrity_worker").Logger(),
		retryDelay: 2 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it holds. Call in a goroutine.
func (w *IntegrityWorker) Start(ctx context.Context) {
	w.log.Info().Msg("IntegrityWorker started")

	buffer := make([]model.IntegrityEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistIntegrityQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var event model.IntegrityEvent
		if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed integrity event")
			continue
		}
		buffer = append(buffer, event)
	}
}

// flushSafe tries a bulk copy, then row-by-row inserts, then requeues what is left.
func (w *IntegrityWorker) flushSafe(ctx context.Context, batch []model.IntegrityEvent) {
	_, err := w.sink.CopyEvents(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, attempting row-by-row recovery")

	var failed []model.IntegrityEvent
	for i := range batch {
		if err := w.sink.Insert(ctx, &batch[i]); err != nil {
			w.log.Error().Err(err).Str("session_id", batch[i].SessionID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, batch[i])
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *IntegrityWorker) requeue(ctx context.Context, events []model.IntegrityEvent) {
	pipe := w.rdb.Pipeline()
	for _, e := range events {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistIntegrityQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(events)).Msg("CRITICAL: Failed to requeue integrity events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(events)).Msg("Requeued failed integrity events")
	sleep(ctx, w.retryDelay)
}

func (w *IntegrityWorker) shutdown(buffer []model.IntegrityEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
