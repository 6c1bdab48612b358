package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

// Store bundles the repositories the session orchestrator writes through.
type Store struct {
	Students      *StudentRepository
	ClassSections *ClassSectionRepository
	Questions     *QuestionRepository
	Sessions      *ExamSessionRepository
	Results       *ResultRepository
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Students:      NewStudentRepository(pool),
		ClassSections: NewClassSectionRepository(pool),
		Questions:     NewQuestionRepository(pool),
		Sessions:      NewExamSessionRepository(pool),
		Results:       NewResultRepository(pool),
	}
}

func (s *Store) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	return s.Students.GetByID(ctx, id)
}

func (s *Store) GetClassSection(ctx context.Context, class, section string) (*model.ClassSection, error) {
	return s.ClassSections.Get(ctx, class, section)
}

func (s *Store) ListQuestionsByClass(ctx context.Context, class string) ([]model.Question, error) {
	return s.Questions.ListByClass(ctx, class)
}

func (s *Store) ListMCQByClass(ctx context.Context, class string) ([]model.MCQQuestion, error) {
	return s.Questions.ListMCQByClass(ctx, class)
}

func (s *Store) CreateSession(ctx context.Context, es *model.ExamSession) error {
	return s.Sessions.Create(ctx, es)
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return s.Sessions.GetByID(ctx, id)
}

func (s *Store) GetSessionByStudent(ctx context.Context, studentID uuid.UUID) (*model.ExamSession, error) {
	return s.Sessions.GetByStudent(ctx, studentID)
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]*model.ExamSession, error) {
	return s.Sessions.ListActive(ctx)
}

func (s *Store) SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string, version int64) error {
	return s.Sessions.SaveAnswer(ctx, sessionID, questionID, code, version)
}

func (s *Store) SaveMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int, version int64) error {
	return s.Sessions.SaveMCQAnswer(ctx, sessionID, questionID, option, version)
}

func (s *Store) UpdateExitAttempts(ctx context.Context, sessionID uuid.UUID, exitAttempts int, version int64) error {
	return s.Sessions.UpdateExitAttempts(ctx, sessionID, exitAttempts, version)
}

func (s *Store) SaveSession(ctx context.Context, es *model.ExamSession) error {
	return s.Sessions.Save(ctx, es)
}

func (s *Store) RecordResult(ctx context.Context, es *model.ExamSession) error {
	return s.Results.Record(ctx, es)
}
