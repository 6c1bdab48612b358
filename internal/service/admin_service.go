package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
)

// SessionLoader returns the current view of a session. The server passes the
// orchestrator so live sessions are read from memory; tools pass the repository.
type SessionLoader func(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)

// AdminService handles proctor-facing reads and access code management.
type AdminService struct {
	adminRepo   *repository.AdminRepository
	resultRepo  *repository.ResultRepository
	sectionRepo *repository.ClassSectionRepository
	sessionRepo *repository.ExamSessionRepository
	eventRepo   *repository.IntegrityRepository
	load        SessionLoader
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	adminRepo *repository.AdminRepository,
	resultRepo *repository.ResultRepository,
	sectionRepo *repository.ClassSectionRepository,
	sessionRepo *repository.ExamSessionRepository,
	eventRepo *repository.IntegrityRepository,
	load SessionLoader,
) *AdminService {
	if load == nil {
		load = sessionRepo.GetByID
	}
	return &AdminService{
		adminRepo:   adminRepo,
		resultRepo:  resultRepo,
		sectionRepo: sectionRepo,
		sessionRepo: sessionRepo,
		eventRepo:   eventRepo,
		load:        load,
	}
}

// GetByEmail retrieves an admin by email.
func (s *AdminService) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return s.adminRepo.GetByEmail(ctx, email)
}

// GetByID retrieves an admin by ID.
func (s *AdminService) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	return s.adminRepo.GetByID(ctx, id)
}

// Create creates a new admin.
func (s *AdminService) Create(ctx context.Context, admin *model.Admin) error {
	return s.adminRepo.Create(ctx, admin)
}

// ListResults returns one page of completed results. page starts at 1.
func (s *AdminService) ListResults(ctx context.Context, f repository.ResultFilter, page, perPage int) ([]model.ExamResult, int, error) {
	return s.resultRepo.ListPaginated(ctx, f, perPage, (page-1)*perPage)
}

// AllResults returns every completed result matching f.
func (s *AdminService) AllResults(ctx context.Context, f repository.ResultFilter) ([]model.ExamResult, error) {
	return s.resultRepo.ListAll(ctx, f)
}

// ListSessions returns every session, live or completed, optionally for one class.
func (s *AdminService) ListSessions(ctx context.Context, class string) ([]model.ExamResult, error) {
	return s.sessionRepo.ListSummaries(ctx, class)
}

// RotateAccessCode replaces a section's access code. Students already in the
// exam are unaffected; new starts need the new code.
func (s *AdminService) RotateAccessCode(ctx context.Context, class, section, code string) error {
	if err := s.sectionRepo.UpdateAccessCode(ctx, class, section, code); err != nil {
		return fmt.Errorf("update access code: %w", err)
	}
	return nil
}

// SessionDetail is the full review of one session.
type SessionDetail struct {
	Session    *model.ExamSession     `json:"session"`
	Violations []model.IntegrityEvent `json:"violations"`
}

// GetSessionDetail loads a session with its violation log. Raw interpreter
// output is included since this view is for proctors only.
func (s *AdminService) GetSessionDetail(ctx context.Context, id uuid.UUID) (*SessionDetail, error) {
	es, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.Violations(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{Session: es, Violations: events}, nil
}

// Violations returns the integrity log of a session, oldest first.
func (s *AdminService) Violations(ctx context.Context, id uuid.UUID) ([]model.IntegrityEvent, error) {
	events, err := s.eventRepo.ListBySession(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	if events == nil {
		events = []model.IntegrityEvent{}
	}
	return events, nil
}
