package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/clock"
	"github.com/stemsi/codexam/internal/metrics"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
)

// storeTimeout bounds a single Store write made on behalf of a session.
const storeTimeout = 5 * time.Second

var errRetired = errors.New("session retired")

type job func(ctx context.Context, a *actor) error

// actor owns one live session. Only its goroutine touches s, timer and unsynced.
type actor struct {
	id    uuid.UUID
	s     *model.ExamSession
	inbox chan func()
	done  chan struct{}
	timer clock.Timer
	// unsynced is set while the Store is behind the in-memory session.
	unsynced bool
	retired  bool
}

func (a *actor) arm(o *Orchestrator, at time.Time) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = o.clock.AfterFunc(at.Sub(o.clock.Now()), func() { o.expire(a) })
}

func (a *actor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
	}
}

// spawn registers s and starts its goroutine. An already running actor for the same id wins.
func (o *Orchestrator) spawn(s *model.ExamSession) (*actor, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if existing := o.actors[s.ID]; existing != nil {
		o.mu.Unlock()
		return existing, nil
	}
	a := &actor{
		id:    s.ID,
		s:     s,
		inbox: make(chan func()),
		done:  make(chan struct{}),
	}
	o.actors[s.ID] = a
	o.students[s.StudentID] = s.ID
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.ActiveSessions.Inc()
	a.arm(o, s.Deadline)
	go o.run(a)
	return a, nil
}

func (o *Orchestrator) run(a *actor) {
	defer o.wg.Done()
	defer close(a.done)

	for {
		select {
		case fn := <-a.inbox:
			fn()
			if a.retired {
				return
			}
		case <-o.quit:
			a.stopTimer()
			o.mu.Lock()
			delete(o.actors, a.id)
			o.mu.Unlock()
			metrics.ActiveSessions.Dec()
			return
		}
	}
}

// retire drops a completed session. If the Store never caught up, the final
// snapshot stays in memory so the session cannot be revived from stale rows.
func (o *Orchestrator) retire(a *actor) {
	a.retired = true
	a.stopTimer()
	o.mu.Lock()
	if o.actors[a.id] == a {
		delete(o.actors, a.id)
	}
	if a.unsynced {
		o.finished[a.id] = a.s.Clone()
	} else {
		delete(o.students, a.s.StudentID)
	}
	o.mu.Unlock()
	metrics.ActiveSessions.Dec()
}

// send runs fn on the actor's goroutine and waits for its result. fn gets a
// context that outlives the caller, so a disconnecting client cannot abort a
// half-applied transition. A session that fn completes is retired before the
// caller hears back.
func (o *Orchestrator) send(ctx context.Context, a *actor, fn job) error {
	errCh := make(chan error, 1)
	detached := context.WithoutCancel(ctx)
	select {
	case a.inbox <- func() {
		err := fn(detached, a)
		if a.s.CurrentPhase.Terminal() {
			o.retire(a)
		}
		errCh <- err
	}:
	case <-a.done:
		o.mu.Lock()
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return ErrShuttingDown
		}
		return errRetired
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// with runs live on the session's actor, or terminal on a snapshot when the session is complete.
func (o *Orchestrator) with(ctx context.Context, id uuid.UUID, live job, terminal func(*model.ExamSession) error) error {
	for attempt := 0; attempt < 3; attempt++ {
		a, snap, err := o.lookup(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return terminal(snap)
		}
		err = o.send(ctx, a, live)
		if errors.Is(err, errRetired) {
			continue
		}
		return err
	}
	return ErrShuttingDown
}

// mutate is with for operations that are invalid once the session is complete.
func (o *Orchestrator) mutate(ctx context.Context, id uuid.UUID, fn job) error {
	return o.with(ctx, id, fn, func(*model.ExamSession) error { return ErrInvalidPhase })
}

// lookup returns the live actor for id, adopting it from the Store when needed,
// or a snapshot when the session is already complete.
func (o *Orchestrator) lookup(ctx context.Context, id uuid.UUID) (*actor, *model.ExamSession, error) {
	o.mu.Lock()
	if a := o.actors[id]; a != nil {
		o.mu.Unlock()
		return a, nil, nil
	}
	if s := o.finished[id]; s != nil {
		o.mu.Unlock()
		return nil, s.Clone(), nil
	}
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, nil, ErrShuttingDown
	}

	s, err := o.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrUnknownSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load session: %w", ErrPersistence, err)
	}
	if s.CurrentPhase.Terminal() {
		return nil, s, nil
	}
	a, err := o.spawn(s)
	if err != nil {
		return nil, nil, err
	}
	return a, nil, nil
}

// persist runs write against the Store. When it fails the in-memory session
// stays authoritative, a snapshot goes to the backlog and false is returned.
// While the Store is behind, every write is a full snapshot so nothing is skipped.
func (o *Orchestrator) persist(ctx context.Context, a *actor, op string, write func(context.Context) error) bool {
	if a.unsynced {
		write = o.fullWrite(a.s.Clone())
	}
	wctx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := write(wctx)
	cancel()
	if err == nil {
		a.unsynced = false
		return true
	}

	a.unsynced = true
	metrics.PersistenceFallbacks.WithLabelValues(op).Inc()
	o.log.Warn().Err(err).
		Str("session_id", a.id.String()).
		Str("operation", op).
		Int64("version", a.s.Version).
		Msg("Store write failed, keeping session in memory")

	if o.backlog == nil {
		return false
	}
	if err := o.backlog.Defer(ctx, a.s.Clone()); err != nil {
		o.log.Error().Err(err).Str("session_id", a.id.String()).Msg("Failed to queue session for replay")
	}
	return false
}

func (o *Orchestrator) fullWrite(s *model.ExamSession) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := o.store.SaveSession(ctx, s); err != nil {
			return err
		}
		if s.IsSubmitted {
			return o.store.RecordResult(ctx, s)
		}
		return nil
	}
}
