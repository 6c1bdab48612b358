package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

type sessionSink struct {
	mu       sync.Mutex
	saved    []*model.ExamSession
	recorded []uuid.UUID
	saveErr  error
}

func (s *sessionSink) SaveSession(ctx context.Context, es *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, es)
	return nil
}

func (s *sessionSink) RecordResult(ctx context.Context, es *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, es.ID)
	return nil
}

func completedSession() *model.ExamSession {
	student := &model.Student{ID: uuid.New(), Name: "Diya Patel", RollNumber: "9A014", Class: "9th", Section: "A"}
	q := model.Question{ID: uuid.New(), Title: "Sum", TestCases: []model.TestCase{{ID: uuid.New(), Input: "1 2", ExpectedOutput: "3", Hidden: true}}}
	s := model.NewExamSession(student, []model.Question{q}, nil, time.Now(), time.Hour)
	s.Answers[q.ID] = "print(3)"
	s.Results[q.ID] = model.EvaluationResult{QuestionID: q.ID, Score: 100, TotalTests: 1, PassedTests: 1}
	s.CodingScore = 100
	s.TotalScore = 80
	s.CurrentPhase = model.PhaseCompleted
	s.IsSubmitted = true
	s.Version = 7
	return s
}

func TestSessionBacklogReplaysSnapshot(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	sink := &sessionSink{}
	w := NewSessionSyncWorker(sink, rdb, zerolog.Nop())

	s := completedSession()
	require.NoError(t, NewSessionBacklog(rdb).Defer(ctx, s))

	w.processNext(ctx)

	require.Len(t, sink.saved, 1)
	got := sink.saved[0]
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, int64(7), got.Version)
	require.Equal(t, "print(3)", got.Answers[s.Questions[0].ID])
	require.True(t, got.Questions[0].TestCases[0].Hidden)
	require.Equal(t, []uuid.UUID{s.ID}, sink.recorded)

	n, err := rdb.LLen(ctx, config.WorkerKey.PersistSessionsQueue).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSessionSyncRequeuesOnFailure(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	sink := &sessionSink{saveErr: errors.New("connection refused")}
	w := NewSessionSyncWorker(sink, rdb, zerolog.Nop())
	w.retryDelay = 0

	require.NoError(t, NewSessionBacklog(rdb).Defer(ctx, completedSession()))
	w.processNext(ctx)

	n, err := rdb.LLen(ctx, config.WorkerKey.PersistSessionsQueue).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Empty(t, sink.recorded)
}

func TestSessionSyncDropsMalformedPayload(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	sink := &sessionSink{}
	w := NewSessionSyncWorker(sink, rdb, zerolog.Nop())

	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, "{not json").Err())
	w.processNext(ctx)

	n, err := rdb.LLen(ctx, config.WorkerKey.PersistSessionsQueue).Result()
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, sink.saved)
}

func TestSessionSyncDrainsOnShutdown(t *testing.T) {
	rdb := newRedis(t)
	sink := &sessionSink{}
	w := NewSessionSyncWorker(sink, rdb, zerolog.Nop())
	backlog := NewSessionBacklog(rdb)

	live := completedSession()
	live.CurrentPhase = model.PhaseMCQ
	live.IsSubmitted = false
	require.NoError(t, backlog.Defer(context.Background(), live))
	require.NoError(t, backlog.Defer(context.Background(), completedSession()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	require.Len(t, sink.saved, 2)
	require.Len(t, sink.recorded, 1)
}

type eventSink struct {
	mu        sync.Mutex
	copied    []model.IntegrityEvent
	inserted  []model.IntegrityEvent
	copyErr   error
	insertErr func(model.IntegrityEvent) error
}

func (s *eventSink) CopyEvents(ctx context.Context, events []model.IntegrityEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.copyErr != nil {
		return 0, s.copyErr
	}
	s.copied = append(s.copied, events...)
	return int64(len(events)), nil
}

func (s *eventSink) Insert(ctx context.Context, e *model.IntegrityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		if err := s.insertErr(*e); err != nil {
			return err
		}
	}
	s.inserted = append(s.inserted, *e)
	return nil
}

func (s *eventSink) copiedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.copied)
}

func event(kind model.IntegrityEventKind, n int) model.IntegrityEvent {
	return model.IntegrityEvent{
		SessionID:    uuid.New(),
		StudentID:    uuid.New(),
		Kind:         kind,
		Phase:        model.PhaseCoding,
		ExitAttempts: n,
		RecordedAt:   time.Now().UTC(),
	}
}

func TestIntegrityWorkerFallsBackToRowInserts(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	bad := event(model.EventTabHidden, 2)
	sink := &eventSink{
		copyErr: errors.New("copy failed"),
		insertErr: func(e model.IntegrityEvent) error {
			if e.SessionID == bad.SessionID {
				return errors.New("insert failed")
			}
			return nil
		},
	}
	w := NewIntegrityWorker(sink, rdb, zerolog.Nop())
	w.retryDelay = 0

	w.flushSafe(ctx, []model.IntegrityEvent{event(model.EventFocusLost, 1), bad})

	require.Len(t, sink.inserted, 1)
	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistIntegrityQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var requeued model.IntegrityEvent
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &requeued))
	require.Equal(t, bad.SessionID, requeued.SessionID)
}

func TestIntegrityWorkerFlushesQueueOnShutdown(t *testing.T) {
	rdb := newRedis(t)
	sink := &eventSink{}
	w := NewIntegrityWorker(sink, rdb, zerolog.Nop())

	for i := 1; i <= 3; i++ {
		data, err := json.Marshal(event(model.EventFullscreenExited, i))
		require.NoError(t, err)
		require.NoError(t, rdb.RPush(context.Background(), config.WorkerKey.PersistIntegrityQueue, data).Err())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, err := rdb.LLen(context.Background(), config.WorkerKey.PersistIntegrityQueue).Result()
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	require.Equal(t, 3, sink.copiedCount())
}
