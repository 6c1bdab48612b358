package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/model"
)

// Store is the durable collaborator. Lookups return repository.ErrNotFound when
// nothing matches; CreateSession returns repository.ErrDuplicateSession when the
// student already owns a session.
//
// Writes carry the session version and are ignored when the stored version is newer,
// so replaying an old snapshot never rolls a session back.
type Store interface {
	GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error)
	GetClassSection(ctx context.Context, class, section string) (*model.ClassSection, error)
	ListQuestionsByClass(ctx context.Context, class string) ([]model.Question, error)
	ListMCQByClass(ctx context.Context, class string) ([]model.MCQQuestion, error)

	CreateSession(ctx context.Context, s *model.ExamSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetSessionByStudent(ctx context.Context, studentID uuid.UUID) (*model.ExamSession, error)
	ListActiveSessions(ctx context.Context) ([]*model.ExamSession, error)

	SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string, version int64) error
	SaveMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int, version int64) error
	UpdateExitAttempts(ctx context.Context, sessionID uuid.UUID, exitAttempts int, version int64) error
	// SaveSession upserts the session row and all child rows.
	SaveSession(ctx context.Context, s *model.ExamSession) error
	// RecordResult appends a completed session to the results collection, keyed by session id.
	RecordResult(ctx context.Context, s *model.ExamSession) error
}

// Grader scores one coding answer.
type Grader interface {
	Evaluate(ctx context.Context, q *model.Question, code string) model.EvaluationResult
}

// Backlog holds sessions whose Store write failed until they can be replayed.
type Backlog interface {
	Defer(ctx context.Context, s *model.ExamSession) error
}

// Locker provides a cross-process claim on a student while their session is created.
type Locker interface {
	// Acquire reports false when another holder owns the claim.
	Acquire(ctx context.Context, studentID uuid.UUID) (bool, func(), error)
}

// Policy holds the exam rules.
type Policy struct {
	CodingQuestions int
	MCQQuestions    int
	// MCQGracePeriod is the time left for the MCQ section after the coding section
	// times out. Zero hands in the MCQ section at the same moment.
	MCQGracePeriod time.Duration
}

// DefaultPolicy draws 2 coding and 10 multiple-choice questions.
func DefaultPolicy() Policy {
	return Policy{CodingQuestions: 2, MCQQuestions: 10}
}
