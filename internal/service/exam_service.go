package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
	"github.com/stemsi/codexam/internal/session"
)

// ExamEngine is the part of the session orchestrator that admits students.
type ExamEngine interface {
	StartExam(ctx context.Context, studentID uuid.UUID, accessCode string) (*session.Handle, error)
	ActiveSession(ctx context.Context, studentID uuid.UUID) (*session.Handle, error)
}

// Roster resolves students and their class section.
type Roster interface {
	GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error)
	GetClassSection(ctx context.Context, class, section string) (*model.ClassSection, error)
}

// ExamService admits students into the exam and hands out session tokens.
type ExamService struct {
	engine ExamEngine
	roster Roster
	auth   *AuthService
}

// NewExamService creates a new ExamService.
func NewExamService(engine ExamEngine, roster Roster, auth *AuthService) *ExamService {
	return &ExamService{engine: engine, roster: roster, auth: auth}
}

// Entry is what a student receives on entering the exam.
type Entry struct {
	*session.Handle
	Token string `json:"token"`
}

// Start begins a new session and issues its token.
func (s *ExamService) Start(ctx context.Context, studentID uuid.UUID, accessCode string) (*Entry, error) {
	h, err := s.engine.StartExam(ctx, studentID, accessCode)
	if err != nil {
		return nil, err
	}
	return s.entry(h)
}

// Resume re-issues a token for a student's unfinished session, for example after
// a browser crash. The access code is checked again since the old token is gone.
func (s *ExamService) Resume(ctx context.Context, studentID uuid.UUID, accessCode string) (*Entry, error) {
	student, err := s.roster.GetStudent(ctx, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, session.ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load student: %w", session.ErrPersistence, err)
	}
	cs, err := s.roster.GetClassSection(ctx, student.Class, student.Section)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, session.ErrInvalidAccessCode
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load class section: %w", session.ErrPersistence, err)
	}
	if !session.AccessCodeMatches(cs, accessCode) {
		return nil, session.ErrInvalidAccessCode
	}

	h, err := s.engine.ActiveSession(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.entry(h)
}

func (s *ExamService) entry(h *session.Handle) (*Entry, error) {
	token, err := s.auth.GenerateSessionToken(h.SessionID, h.StudentID, h.Deadline)
	if err != nil {
		return nil, err
	}
	return &Entry{Handle: h, Token: token}, nil
}
