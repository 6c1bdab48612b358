package integrity

import (
	"context"
	"encoding/json"
	"errors"
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

type recordingNotifier struct {
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.notes = append(r.notes, n)
	return r.err
}

type recordingLog struct {
	events []model.IntegrityEvent
}

func (r *recordingLog) Append(ctx context.Context, e model.IntegrityEvent) error {
	r.events = append(r.events, e)
	return nil
}

func liveSession() *model.ExamSession {
	student := &model.Student{ID: uuid.New(), Name: "Aarav Sharma", RollNumber: "9A001", Class: "9th", Section: "A"}
	return model.NewExamSession(student, nil, nil, time.Now(), time.Hour)
}

func TestObserveIncrementsDuringLivePhases(t *testing.T) {
	m := NewMonitor(nil, nil, 3, zerolog.Nop())
	s := liveSession()
	at := time.Now()

	n, changed, err := m.Observe(s, model.EventFocusLost, "", at)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, s.ExitAttempts)
	require.Equal(t, 1, n.ExitAttempts)
	require.Equal(t, model.PhaseCoding, n.Phase)
	require.False(t, n.FinalWarning)

	s.CurrentPhase = model.PhaseMCQ
	_, _, _ = m.Observe(s, model.EventTabHidden, "", at)
	n, _, _ = m.Observe(s, model.EventForbiddenShortcut, "Alt+Tab", at)
	require.Equal(t, 3, s.ExitAttempts)
	require.True(t, n.FinalWarning)
	require.Equal(t, "Alt+Tab", n.Detail)
}

func TestObserveIgnoresTerminalSessions(t *testing.T) {
	m := NewMonitor(nil, nil, 3, zerolog.Nop())
	s := liveSession()
	s.CurrentPhase = model.PhaseCompleted
	s.IsSubmitted = true
	s.ExitAttempts = 2

	_, changed, err := m.Observe(s, model.EventFullscreenExited, "", time.Now())
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 2, s.ExitAttempts)
}

func TestObserveRejectsUnknownKind(t *testing.T) {
	m := NewMonitor(nil, nil, 3, zerolog.Nop())
	s := liveSession()

	_, _, err := m.Observe(s, model.IntegrityEventKind("screenshot"), "", time.Now())
	require.True(t, errors.Is(err, ErrUnknownKind))
	require.Zero(t, s.ExitAttempts)
}

func TestPhaseSubmittedFloorsAtZero(t *testing.T) {
	m := NewMonitor(nil, nil, 0, zerolog.Nop())
	s := liveSession()

	m.PhaseSubmitted(s)
	require.Zero(t, s.ExitAttempts)

	s.ExitAttempts = 2
	m.PhaseSubmitted(s)
	require.Equal(t, 1, s.ExitAttempts)
}

func TestPublishContinuesWhenNotifierFails(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("redis down")}
	events := &recordingLog{}
	m := NewMonitor(notifier, events, 3, zerolog.Nop())
	s := liveSession()

	n, _, err := m.Observe(s, model.EventFocusLost, "", time.Now())
	require.NoError(t, err)
	m.Publish(context.Background(), n)

	require.Len(t, notifier.notes, 1)
	require.Len(t, events.events, 1)
	require.Equal(t, s.ID, events.events[0].SessionID)
	require.Equal(t, model.EventFocusLost, events.events[0].Kind)
}

func TestRedisNotifierAndEventLog(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	notifier := NewRedisNotifier(rdb)
	m := NewMonitor(notifier, NewRedisEventLog(rdb), 3, zerolog.Nop())
	s := liveSession()

	sub := notifier.Subscribe(ctx, s.ID)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	n, _, err := m.Observe(s, model.EventTabHidden, "", time.Now())
	require.NoError(t, err)
	m.Publish(ctx, n)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, 1, got.ExitAttempts)
	require.Equal(t, model.EventTabHidden, got.Kind)

	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistIntegrityQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var event model.IntegrityEvent
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &event))
	require.Equal(t, s.ID, event.SessionID)
}
