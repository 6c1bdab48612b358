package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
	"github.com/stemsi/codexam/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	handle  *session.Handle
	err     error
	resumed bool
	gotCode string
}

func (f *fakeEngine) StartExam(_ context.Context, _ uuid.UUID, code string) (*session.Handle, error) {
	f.gotCode = code
	return f.handle, f.err
}

func (f *fakeEngine) ActiveSession(_ context.Context, _ uuid.UUID) (*session.Handle, error) {
	f.resumed = true
	return f.handle, f.err
}

type fakeRoster struct {
	students map[uuid.UUID]*model.Student
	section  *model.ClassSection
}

func (f *fakeRoster) GetStudent(_ context.Context, id uuid.UUID) (*model.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (f *fakeRoster) GetClassSection(_ context.Context, _, _ string) (*model.ClassSection, error) {
	if f.section == nil {
		return nil, repository.ErrNotFound
	}
	return f.section, nil
}

func newExamFixture(t *testing.T) (*ExamService, *fakeEngine, uuid.UUID) {
	t.Helper()
	studentID := uuid.New()
	now := time.Now()
	engine := &fakeEngine{handle: &session.Handle{
		SessionID: uuid.New(),
		StudentID: studentID,
		Phase:     model.PhaseCoding,
		StartTime: now,
		Deadline:  now.Add(90 * time.Minute),
	}}
	roster := &fakeRoster{
		students: map[uuid.UUID]*model.Student{studentID: {ID: studentID, Class: "10", Section: "A"}},
		section:  &model.ClassSection{Class: "10", Section: "A", AccessCode: "PY10"},
	}
	return NewExamService(engine, roster, newTestAuth(now)), engine, studentID
}

func TestStartIssuesSessionToken(t *testing.T) {
	svc, engine, studentID := newExamFixture(t)

	entry, err := svc.Start(context.Background(), studentID, "PY10")
	require.NoError(t, err)
	require.Equal(t, "PY10", engine.gotCode)
	require.NotEmpty(t, entry.Token)

	claims, err := svc.auth.ValidateToken(entry.Token)
	require.NoError(t, err)
	require.Equal(t, entry.SessionID, claims.SessionID)
	require.Equal(t, studentID, claims.StudentID)
}

func TestStartPassesEngineErrors(t *testing.T) {
	svc, engine, studentID := newExamFixture(t)
	engine.err = session.ErrSessionActive

	_, err := svc.Start(context.Background(), studentID, "PY10")
	require.ErrorIs(t, err, session.ErrSessionActive)
}

func TestResumeChecksAccessCode(t *testing.T) {
	svc, engine, studentID := newExamFixture(t)

	_, err := svc.Resume(context.Background(), studentID, "WRONG")
	require.ErrorIs(t, err, session.ErrInvalidAccessCode)
	require.False(t, engine.resumed)

	entry, err := svc.Resume(context.Background(), studentID, " PY10 ")
	require.NoError(t, err)
	require.True(t, engine.resumed)
	require.Equal(t, engine.handle.SessionID, entry.SessionID)
}

func TestResumeUnknownStudent(t *testing.T) {
	svc, _, _ := newExamFixture(t)

	_, err := svc.Resume(context.Background(), uuid.New(), "PY10")
	require.ErrorIs(t, err, session.ErrStudentNotFound)
}
