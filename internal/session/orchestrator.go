// Package session runs exam attempts: it creates sessions, accepts answers,
// hands sections in on request or on timeout, and keeps the Store in step.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/clock"
	"github.com/stemsi/codexam/internal/integrity"
	"github.com/stemsi/codexam/internal/metrics"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
)

const (
	triggerStudent = "student"
	triggerTimeout = "timeout"
)

// Deps are the collaborators of an Orchestrator. Backlog, Locker and Rand are optional.
type Deps struct {
	Store   Store
	Grader  Grader
	Monitor *integrity.Monitor
	Clock   clock.Clock
	Backlog Backlog
	Locker  Locker
	Rand    *rand.Rand
}

// Orchestrator owns every live session. Each session is mutated by a single
// goroutine; callers talk to it through a mailbox.
type Orchestrator struct {
	store   Store
	grader  Grader
	monitor *integrity.Monitor
	clock   clock.Clock
	backlog Backlog
	locker  Locker
	policy  Policy
	log     zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	actors   map[uuid.UUID]*actor
	students map[uuid.UUID]uuid.UUID // student -> session, live or unsynced
	finished map[uuid.UUID]*model.ExamSession
	starting map[uuid.UUID]struct{}
	closed   bool

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewOrchestrator(deps Deps, policy Policy, log zerolog.Logger) *Orchestrator {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Orchestrator{
		store:    deps.Store,
		grader:   deps.Grader,
		monitor:  deps.Monitor,
		clock:    clk,
		backlog:  deps.Backlog,
		locker:   deps.Locker,
		policy:   policy,
		log:      log.With().Str("component", "session_orchestrator").Logger(),
		rng:      rng,
		actors:   make(map[uuid.UUID]*actor),
		students: make(map[uuid.UUID]uuid.UUID),
		finished: make(map[uuid.UUID]*model.ExamSession),
		starting: make(map[uuid.UUID]struct{}),
		quit:     make(chan struct{}),
	}
}

// Handle is returned to the student when an exam starts.
type Handle struct {
	SessionID    uuid.UUID            `json:"session_id"`
	StudentID    uuid.UUID            `json:"student_id"`
	Phase        model.Phase          `json:"phase"`
	StartTime    time.Time            `json:"start_time"`
	Deadline     time.Time            `json:"deadline"`
	Questions    []model.QuestionView `json:"questions"`
	MCQQuestions []model.MCQView      `json:"mcq_questions"`
}

// Ack acknowledges an answer. Persisted is false when the write is waiting in the backlog.
type Ack struct {
	Persisted bool `json:"persisted"`
}

// CodingOutcome is the result of handing in the coding section.
type CodingOutcome struct {
	CodingScore int                      `json:"coding_score"`
	Results     []model.EvaluationResult `json:"results"`
	Phase       model.Phase              `json:"phase"`
	Deadline    time.Time                `json:"deadline"`
	Persisted   bool                     `json:"persisted"`
}

// MCQOutcome is the result of handing in the MCQ section.
type MCQOutcome struct {
	CodingScore int  `json:"coding_score"`
	MCQScore    int  `json:"mcq_score"`
	TotalScore  int  `json:"total_score"`
	Correct     int  `json:"correct"`
	Total       int  `json:"total"`
	Persisted   bool `json:"persisted"`
}

// IntegrityAck reports the violation counter after an integrity event.
type IntegrityAck struct {
	ExitAttempts int  `json:"exit_attempts"`
	FinalWarning bool `json:"final_warning"`
	Persisted    bool `json:"persisted"`
}

// State is a read-only summary used to render the exam screen.
type State struct {
	SessionID        uuid.UUID   `json:"session_id"`
	Phase            model.Phase `json:"phase"`
	Deadline         time.Time   `json:"deadline"`
	RemainingSeconds int64       `json:"remaining_seconds"`
	Answered         int         `json:"answered"`
	TotalQuestions   int         `json:"total_questions"`
	MCQAnswered      int         `json:"mcq_answered"`
	TotalMCQ         int         `json:"total_mcq"`
	ExitAttempts     int         `json:"exit_attempts"`
	CodingScore      *int        `json:"coding_score,omitempty"`
	MCQScore         *int        `json:"mcq_score,omitempty"`
	TotalScore       *int        `json:"total_score,omitempty"`
}

// ─── Start ──────────────────────────────────────────────────────────

// StartExam validates the student and access code, draws the question set,
// persists the new session and arms its timer.
func (o *Orchestrator) StartExam(ctx context.Context, studentID uuid.UUID, accessCode string) (*Handle, error) {
	release, err := o.claim(ctx, studentID)
	if err != nil {
		o.reject(err)
		return nil, err
	}
	defer release()

	h, err := o.start(ctx, studentID, accessCode)
	if err != nil {
		o.reject(err)
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	return h, nil
}

func (o *Orchestrator) start(ctx context.Context, studentID uuid.UUID, accessCode string) (*Handle, error) {
	student, err := o.store.GetStudent(ctx, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load student: %w", ErrPersistence, err)
	}

	if err := o.checkExisting(ctx, studentID); err != nil {
		return nil, err
	}

	cs, err := o.store.GetClassSection(ctx, student.Class, student.Section)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidAccessCode
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load class section: %w", ErrPersistence, err)
	}
	if !AccessCodeMatches(cs, accessCode) {
		return nil, ErrInvalidAccessCode
	}

	pool, err := o.store.ListQuestionsByClass(ctx, student.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: load questions: %w", ErrPersistence, err)
	}
	mcqPool, err := o.store.ListMCQByClass(ctx, student.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: load mcq questions: %w", ErrPersistence, err)
	}

	o.rngMu.Lock()
	questions := sample(o.rng, pool, o.policy.CodingQuestions, func(q model.Question) uuid.UUID { return q.ID })
	mcqs := sample(o.rng, mcqPool, o.policy.MCQQuestions, func(q model.MCQQuestion) uuid.UUID { return q.ID })
	o.rngMu.Unlock()

	s := model.NewExamSession(student, questions, mcqs, o.clock.Now(), cs.Duration()).Clone()

	if err := o.store.CreateSession(ctx, s); err != nil {
		if errors.Is(err, repository.ErrDuplicateSession) {
			return nil, ErrConcurrentStart
		}
		return nil, fmt.Errorf("%w: create session: %w", ErrPersistence, err)
	}

	h := newHandle(s)
	if _, err := o.spawn(s); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("session_id", s.ID.String()).
		Str("student_id", studentID.String()).
		Str("class", s.Class).
		Str("section", s.Section).
		Time("deadline", h.Deadline).
		Msg("Exam started")

	return h, nil
}

// AccessCodeMatches compares a submitted code with the section's current one.
// Surrounding whitespace is ignored; a section without a code admits nobody.
func AccessCodeMatches(cs *model.ClassSection, code string) bool {
	code = strings.TrimSpace(code)
	return cs.AccessCode != "" && subtle.ConstantTimeCompare([]byte(code), []byte(cs.AccessCode)) == 1
}

func (o *Orchestrator) checkExisting(ctx context.Context, studentID uuid.UUID) error {
	o.mu.Lock()
	if id, ok := o.students[studentID]; ok {
		_, live := o.actors[id]
		o.mu.Unlock()
		if live {
			return ErrSessionActive
		}
		return ErrAlreadyCompleted
	}
	o.mu.Unlock()

	existing, err := o.store.GetSessionByStudent(ctx, studentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("%w: load existing session: %w", ErrPersistence, err)
	case existing.IsSubmitted || existing.CurrentPhase.Terminal():
		return ErrAlreadyCompleted
	default:
		return ErrSessionActive
	}
}

// claim serialises StartExam per student, in-process and, with a Locker, across processes.
func (o *Orchestrator) claim(ctx context.Context, studentID uuid.UUID) (func(), error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, busy := o.starting[studentID]; busy {
		o.mu.Unlock()
		return nil, ErrConcurrentStart
	}
	o.starting[studentID] = struct{}{}
	o.mu.Unlock()

	local := func() {
		o.mu.Lock()
		delete(o.starting, studentID)
		o.mu.Unlock()
	}
	if o.locker == nil {
		return local, nil
	}

	ok, unlock, err := o.locker.Acquire(ctx, studentID)
	if err != nil {
		o.log.Warn().Err(err).Str("student_id", studentID.String()).Msg("Start lock unavailable, relying on store constraint")
		return local, nil
	}
	if !ok {
		local()
		return nil, ErrConcurrentStart
	}
	return func() {
		unlock()
		local()
	}, nil
}

func (o *Orchestrator) reject(err error) {
	reason := "persistence"
	switch {
	case errors.Is(err, ErrStudentNotFound):
		reason = "student_not_found"
	case errors.Is(err, ErrInvalidAccessCode):
		reason = "invalid_access_code"
	case errors.Is(err, ErrAlreadyCompleted):
		reason = "already_completed"
	case errors.Is(err, ErrSessionActive):
		reason = "session_active"
	case errors.Is(err, ErrConcurrentStart):
		reason = "concurrent_start"
	case errors.Is(err, ErrShuttingDown):
		reason = "shutting_down"
	}
	metrics.SessionsRejected.WithLabelValues(reason).Inc()
}

// sample draws up to n distinct items in random order. Duplicated ids in the pool count once.
func sample[T any](rng *rand.Rand, pool []T, n int, id func(T) uuid.UUID) []T {
	seen := make(map[uuid.UUID]struct{}, len(pool))
	unique := make([]T, 0, len(pool))
	for _, item := range pool {
		k := id(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, item)
	}
	if n > len(unique) {
		n = len(unique)
	}
	if n < 0 {
		n = 0
	}
	out := make([]T, 0, n)
	for _, idx := range rng.Perm(len(unique))[:n] {
		out = append(out, unique[idx])
	}
	return out
}

func newHandle(s *model.ExamSession) *Handle {
	h := &Handle{
		SessionID:    s.ID,
		StudentID:    s.StudentID,
		Phase:        s.CurrentPhase,
		StartTime:    s.StartTime,
		Deadline:     s.Deadline,
		Questions:    make([]model.QuestionView, len(s.Questions)),
		MCQQuestions: make([]model.MCQView, len(s.MCQQuestions)),
	}
	for i := range s.Questions {
		h.Questions[i] = s.Questions[i].View()
	}
	for i := range s.MCQQuestions {
		h.MCQQuestions[i] = s.MCQQuestions[i].View()
	}
	return h
}

// ─── Answers ────────────────────────────────────────────────────────

// SubmitAnswer replaces the stored code for a coding question.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string) (Ack, error) {
	var ack Ack
	err := o.mutate(ctx, sessionID, func(ctx context.Context, a *actor) error {
		s := a.s
		if s.CurrentPhase != model.PhaseCoding {
			return ErrInvalidPhase
		}
		if _, ok := s.Question(questionID); !ok {
			return ErrUnknownQuestion
		}
		s.Answers[questionID] = code
		s.Version++
		ack.Persisted = o.persist(ctx, a, "save_answer", func(ctx context.Context) error {
			return o.store.SaveAnswer(ctx, s.ID, questionID, code, s.Version)
		})
		return nil
	})
	return ack, err
}

// SubmitMCQAnswer records an option for a multiple-choice question. Allowed in any live phase.
func (o *Orchestrator) SubmitMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int) (Ack, error) {
	var ack Ack
	err := o.mutate(ctx, sessionID, func(ctx context.Context, a *actor) error {
		s := a.s
		q, ok := s.MCQ(questionID)
		if !ok {
			return ErrUnknownQuestion
		}
		if option < 0 || option >= len(q.Options) {
			return ErrOptionOutOfRange
		}
		s.MCQAnswers[questionID] = option
		s.Version++
		ack.Persisted = o.persist(ctx, a, "save_mcq_answer", func(ctx context.Context) error {
			return o.store.SaveMCQAnswer(ctx, s.ID, questionID, option, s.Version)
		})
		return nil
	})
	return ack, err
}

// ─── Section submission ─────────────────────────────────────────────

// SubmitCodingSection grades every coding answer and moves the session to the MCQ phase.
func (o *Orchestrator) SubmitCodingSection(ctx context.Context, sessionID uuid.UUID) (CodingOutcome, error) {
	var out CodingOutcome
	err := o.mutate(ctx, sessionID, func(ctx context.Context, a *actor) error {
		var err error
		out, err = o.submitCoding(ctx, a, triggerStudent)
		return err
	})
	return out, err
}

// SubmitMCQSection scores the MCQ answers, completes the session and records the result.
func (o *Orchestrator) SubmitMCQSection(ctx context.Context, sessionID uuid.UUID) (MCQOutcome, error) {
	var out MCQOutcome
	err := o.mutate(ctx, sessionID, func(ctx context.Context, a *actor) error {
		var err error
		out, err = o.submitMCQ(ctx, a, triggerStudent)
		return err
	})
	return out, err
}

func (o *Orchestrator) submitCoding(ctx context.Context, a *actor, trigger string) (CodingOutcome, error) {
	s := a.s
	if s.CurrentPhase != model.PhaseCoding {
		return CodingOutcome{}, ErrInvalidPhase
	}

	results := make([]model.EvaluationResult, 0, len(s.Questions))
	sum := 0
	for i := range s.Questions {
		q := &s.Questions[i]
		r := o.grader.Evaluate(ctx, q, s.Answers[q.ID])
		s.Results[q.ID] = r
		sum += r.Score
		results = append(results, r.ForStudent(q))
	}
	if n := len(s.Questions); n > 0 {
		s.CodingScore = int(math.Round(float64(sum) / float64(n)))
	}

	now := o.clock.Now()
	s.CodingEndTime = &now
	if o.monitor != nil {
		o.monitor.PhaseSubmitted(s)
	}
	s.CurrentPhase = model.PhaseMCQ
	s.TotalScore = model.TotalScore(s.CodingScore, s.MCQScore)
	s.Version++

	metrics.PhaseSubmissions.WithLabelValues(string(model.PhaseCoding), trigger).Inc()
	o.log.Info().
		Str("session_id", s.ID.String()).
		Str("trigger", trigger).
		Int("coding_score", s.CodingScore).
		Msg("Coding section submitted")

	persisted := o.persist(ctx, a, "submit_coding", o.fullWrite(s.Clone()))

	return CodingOutcome{
		CodingScore: s.CodingScore,
		Results:     results,
		Phase:       s.CurrentPhase,
		Deadline:    s.Deadline,
		Persisted:   persisted,
	}, nil
}

func (o *Orchestrator) submitMCQ(ctx context.Context, a *actor, trigger string) (MCQOutcome, error) {
	s := a.s
	if s.CurrentPhase != model.PhaseMCQ {
		return MCQOutcome{}, ErrInvalidPhase
	}

	correct := 0
	for _, q := range s.MCQQuestions {
		ans, ok := s.MCQAnswers[q.ID]
		hit := ok && ans == q.CorrectAnswer
		s.MCQResults[q.ID] = hit
		if hit {
			correct++
		}
	}
	if n := len(s.MCQQuestions); n > 0 {
		s.MCQScore = int(math.Round(float64(correct) / float64(n) * 100))
	}
	s.TotalScore = model.TotalScore(s.CodingScore, s.MCQScore)

	now := o.clock.Now()
	s.EndTime = &now
	s.IsSubmitted = true
	if o.monitor != nil {
		o.monitor.PhaseSubmitted(s)
	}
	s.CurrentPhase = model.PhaseCompleted
	s.Version++

	metrics.PhaseSubmissions.WithLabelValues(string(model.PhaseMCQ), trigger).Inc()
	o.log.Info().
		Str("session_id", s.ID.String()).
		Str("trigger", trigger).
		Int("mcq_score", s.MCQScore).
		Int("total_score", s.TotalScore).
		Msg("Exam completed")

	persisted := o.persist(ctx, a, "submit_mcq", o.fullWrite(s.Clone()))

	return MCQOutcome{
		CodingScore: s.CodingScore,
		MCQScore:    s.MCQScore,
		TotalScore:  s.TotalScore,
		Correct:     correct,
		Total:       len(s.MCQQuestions),
		Persisted:   persisted,
	}, nil
}

// expire runs when a session's timer fires.
func (o *Orchestrator) expire(a *actor) {
	err := o.send(context.Background(), a, func(ctx context.Context, a *actor) error {
		switch a.s.CurrentPhase {
		case model.PhaseCoding:
			if _, err := o.submitCoding(ctx, a, triggerTimeout); err != nil {
				return err
			}
			if o.policy.MCQGracePeriod <= 0 {
				_, err := o.submitMCQ(ctx, a, triggerTimeout)
				return err
			}
			a.s.Deadline = o.clock.Now().Add(o.policy.MCQGracePeriod)
			a.s.Version++
			o.persist(ctx, a, "extend_deadline", o.fullWrite(a.s.Clone()))
			a.arm(o, a.s.Deadline)
			return nil
		case model.PhaseMCQ:
			_, err := o.submitMCQ(ctx, a, triggerTimeout)
			return err
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrShuttingDown) && !errors.Is(err, errRetired) {
		o.log.Error().Err(err).Str("session_id", a.id.String()).Msg("Timeout submission failed")
	}
}

// ─── Integrity ──────────────────────────────────────────────────────

// ReportIntegrityEvent counts a proctoring violation. Completed sessions are left untouched.
func (o *Orchestrator) ReportIntegrityEvent(ctx context.Context, sessionID uuid.UUID, kind model.IntegrityEventKind, detail string) (IntegrityAck, error) {
	if !kind.Valid() {
		return IntegrityAck{}, ErrUnknownEventKind
	}

	var ack IntegrityAck
	err := o.with(ctx, sessionID, func(ctx context.Context, a *actor) error {
		s := a.s
		ack.ExitAttempts = s.ExitAttempts
		ack.Persisted = true
		if o.monitor == nil {
			return nil
		}
		n, changed, err := o.monitor.Observe(s, kind, detail, o.clock.Now())
		if err != nil {
			return ErrUnknownEventKind
		}
		if !changed {
			return nil
		}
		s.Version++
		ack.ExitAttempts = s.ExitAttempts
		ack.FinalWarning = n.FinalWarning
		ack.Persisted = o.persist(ctx, a, "exit_attempts", func(ctx context.Context) error {
			return o.store.UpdateExitAttempts(ctx, s.ID, s.ExitAttempts, s.Version)
		})
		o.monitor.Publish(ctx, n)
		return nil
	}, func(s *model.ExamSession) error {
		ack = IntegrityAck{ExitAttempts: s.ExitAttempts, Persisted: true}
		return nil
	})
	return ack, err
}

// ─── Reads ──────────────────────────────────────────────────────────

// Snapshot returns a deep copy of the session.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	var snap *model.ExamSession
	err := o.with(ctx, sessionID, func(ctx context.Context, a *actor) error {
		snap = a.s.Clone()
		return nil
	}, func(s *model.ExamSession) error {
		snap = s
		return nil
	})
	return snap, err
}

// State summarises the session for display.
func (o *Orchestrator) State(ctx context.Context, sessionID uuid.UUID) (State, error) {
	s, err := o.Snapshot(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	remaining := int64(s.Deadline.Sub(o.clock.Now()).Seconds())
	if remaining < 0 || s.CurrentPhase.Terminal() {
		remaining = 0
	}
	st := State{
		SessionID:        s.ID,
		Phase:            s.CurrentPhase,
		Deadline:         s.Deadline,
		RemainingSeconds: remaining,
		Answered:         len(s.Answers),
		TotalQuestions:   len(s.Questions),
		MCQAnswered:      len(s.MCQAnswers),
		TotalMCQ:         len(s.MCQQuestions),
		ExitAttempts:     s.ExitAttempts,
	}
	if s.CurrentPhase != model.PhaseCoding {
		st.CodingScore = &s.CodingScore
	}
	if s.CurrentPhase.Terminal() {
		st.MCQScore = &s.MCQScore
		st.TotalScore = &s.TotalScore
	}
	return st, nil
}

// ActiveSession finds the live session of a student, for resuming after a reload.
func (o *Orchestrator) ActiveSession(ctx context.Context, studentID uuid.UUID) (*Handle, error) {
	o.mu.Lock()
	id, ok := o.students[studentID]
	o.mu.Unlock()
	if !ok {
		s, err := o.store.GetSessionByStudent(ctx, studentID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load session: %w", ErrPersistence, err)
		}
		id = s.ID
	}
	s, err := o.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.CurrentPhase.Terminal() {
		return nil, ErrAlreadyCompleted
	}
	return newHandle(s), nil
}

// ActiveCount returns the number of sessions running in this process.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.actors)
}

// Recover adopts every unfinished session in the Store and re-arms its timer.
// Sessions whose deadline has passed are handed in straight away.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	sessions, err := o.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list active sessions: %w", ErrPersistence, err)
	}
	n := 0
	for _, s := range sessions {
		if s.CurrentPhase.Terminal() {
			continue
		}
		if _, err := o.spawn(s); err != nil {
			return n, err
		}
		n++
	}
	o.log.Info().Int("sessions", n).Msg("Recovered active sessions")
	return n, nil
}

// Close stops every session goroutine and timer. Sessions stay in the Store and
// are picked up again by Recover.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.quit)
	o.mu.Unlock()
	o.wg.Wait()
}
