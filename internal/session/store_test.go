package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory Store with the same uniqueness and version rules as the pgx one.
type memStore struct {
	mu        sync.Mutex
	students  map[uuid.UUID]*model.Student
	sections  map[string]*model.ClassSection
	questions []model.Question
	mcqs      []model.MCQQuestion
	sessions  map[uuid.UUID]*model.ExamSession
	byStudent map[uuid.UUID]uuid.UUID
	results   map[uuid.UUID]*model.ExamSession
	failWrite bool
	creates   int
}

func newMemStore() *memStore {
	return &memStore{
		students:  make(map[uuid.UUID]*model.Student),
		sections:  make(map[string]*model.ClassSection),
		sessions:  make(map[uuid.UUID]*model.ExamSession),
		byStudent: make(map[uuid.UUID]uuid.UUID),
		results:   make(map[uuid.UUID]*model.ExamSession),
	}
}

func sectionKey(class, section string) string { return class + "/" + section }

func (m *memStore) addStudent(name, roll string) *model.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &model.Student{ID: uuid.New(), Name: name, RollNumber: roll, Class: "9th", Section: "A"}
	m.students[s.ID] = s
	return s
}

func (m *memStore) setFailWrites(fail bool) {
	m.mu.Lock()
	m.failWrite = fail
	m.mu.Unlock()
}

func (m *memStore) stored(id uuid.UUID) *model.ExamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Clone()
	}
	return nil
}

func (m *memStore) result(id uuid.UUID) *model.ExamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[id]
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *memStore) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetClassSection(ctx context.Context, class, section string) (*model.ClassSection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.sections[sectionKey(class, section)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cs
	return &cp, nil
}

func (m *memStore) ListQuestionsByClass(ctx context.Context, class string) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Question
	for _, q := range m.questions {
		if q.Class == class {
			q.TestCases = append([]model.TestCase(nil), q.TestCases...)
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memStore) ListMCQByClass(ctx context.Context, class string) ([]model.MCQQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MCQQuestion
	for _, q := range m.mcqs {
		if q.Class == class {
			q.Options = append([]string(nil), q.Options...)
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memStore) CreateSession(ctx context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errStoreDown
	}
	if _, dup := m.byStudent[s.StudentID]; dup {
		return repository.ErrDuplicateSession
	}
	m.creates++
	m.sessions[s.ID] = s.Clone()
	m.byStudent[s.StudentID] = s.ID
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	if s := m.stored(id); s != nil {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetSessionByStudent(ctx context.Context, studentID uuid.UUID) (*model.ExamSession, error) {
	m.mu.Lock()
	id, ok := m.byStudent[studentID]
	m.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.GetSession(ctx, id)
}

func (m *memStore) ListActiveSessions(ctx context.Context) ([]*model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ExamSession
	for _, s := range m.sessions {
		if !s.CurrentPhase.Terminal() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// bump applies fn to the stored session when version is newer than what is stored.
func (m *memStore) bump(id uuid.UUID, version int64, fn func(s *model.ExamSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok || s.Version >= version {
		return nil
	}
	s.Version = version
	fn(s)
	return nil
}

func (m *memStore) SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string, version int64) error {
	return m.bump(sessionID, version, func(s *model.ExamSession) { s.Answers[questionID] = code })
}

func (m *memStore) SaveMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int, version int64) error {
	return m.bump(sessionID, version, func(s *model.ExamSession) { s.MCQAnswers[questionID] = option })
}

func (m *memStore) UpdateExitAttempts(ctx context.Context, sessionID uuid.UUID, exitAttempts int, version int64) error {
	return m.bump(sessionID, version, func(s *model.ExamSession) { s.ExitAttempts = exitAttempts })
}

func (m *memStore) SaveSession(ctx context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errStoreDown
	}
	if cur, ok := m.sessions[s.ID]; ok && cur.Version > s.Version {
		return nil
	}
	m.sessions[s.ID] = s.Clone()
	m.byStudent[s.StudentID] = s.ID
	return nil
}

func (m *memStore) RecordResult(ctx context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errStoreDown
	}
	if _, ok := m.results[s.ID]; !ok {
		m.results[s.ID] = s.Clone()
	}
	return nil
}

// seedBank fills the store with a class section and question pools for class 9th.
func (m *memStore) seedBank(coding, mcq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections[sectionKey("9th", "A")] = &model.ClassSection{
		Class: "9th", Section: "A", AccessCode: "KNCS9A2025", DurationMinutes: 90,
	}
	for i := 0; i < coding; i++ {
		m.questions = append(m.questions, model.Question{
			ID:    uuid.New(),
			Title: fmt.Sprintf("Problem %d", i+1),
			Class: "9th",
			TestCases: []model.TestCase{
				{ID: uuid.New(), Input: "1", ExpectedOutput: "1"},
				{ID: uuid.New(), Input: "2", ExpectedOutput: "2", Hidden: true},
			},
		})
	}
	for i := 0; i < mcq; i++ {
		m.mcqs = append(m.mcqs, model.MCQQuestion{
			ID:            uuid.New(),
			Question:      fmt.Sprintf("Question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: i % 4,
			Class:         "9th",
		})
	}
}

// scoreGrader scores code written as "score=N" with N and anything else with 0.
type scoreGrader struct {
	mu    sync.Mutex
	calls int
}

func (g *scoreGrader) Evaluate(ctx context.Context, q *model.Question, code string) model.EvaluationResult {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	score, _ := strconv.Atoi(strings.TrimPrefix(code, "score="))
	return model.EvaluationResult{
		QuestionID: q.ID,
		Code:       code,
		Score:      score,
		TotalTests: len(q.TestCases),
	}
}

type memBacklog struct {
	mu    sync.Mutex
	items []*model.ExamSession
}

func (b *memBacklog) Defer(ctx context.Context, s *model.ExamSession) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, s)
	return nil
}

func (b *memBacklog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

var _ Store = (*memStore)(nil)
