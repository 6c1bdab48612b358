package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/middleware"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/service"
	"github.com/stemsi/codexam/internal/session"
	"github.com/stemsi/codexam/internal/validator"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// stubEngine answers every operation from its fields. Tests that drive it from
// another goroutine change it through set.
type stubEngine struct {
	mu sync.Mutex

	handle    *session.Handle
	startErr  error
	ack       session.Ack
	opErr     error
	coding    session.CodingOutcome
	mcq       session.MCQOutcome
	integrity session.IntegrityAck
	state     session.State

	gotCode   string
	gotOption int
	gotKind   model.IntegrityEventKind
}

func (s *stubEngine) set(fn func(e *stubEngine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stubEngine) StartExam(ctx context.Context, studentID uuid.UUID, accessCode string) (*session.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	h := *s.handle
	h.StudentID = studentID
	return &h, nil
}

func (s *stubEngine) ActiveSession(ctx context.Context, studentID uuid.UUID) (*session.Handle, error) {
	return s.StartExam(ctx, studentID, "")
}

func (s *stubEngine) SubmitAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string) (session.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotCode = code
	return s.ack, s.opErr
}

func (s *stubEngine) SubmitMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int) (session.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotOption = option
	return s.ack, s.opErr
}

func (s *stubEngine) SubmitCodingSection(ctx context.Context, sessionID uuid.UUID) (session.CodingOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coding, s.opErr
}

func (s *stubEngine) SubmitMCQSection(ctx context.Context, sessionID uuid.UUID) (session.MCQOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mcq, s.opErr
}

func (s *stubEngine) ReportIntegrityEvent(ctx context.Context, sessionID uuid.UUID, kind model.IntegrityEventKind, detail string) (session.IntegrityAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gotKind = kind
	return s.integrity, s.opErr
}

func (s *stubEngine) State(ctx context.Context, sessionID uuid.UUID) (session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.opErr
}

type stubRoster struct {
	student *model.Student
	section *model.ClassSection
}

func (r stubRoster) GetStudent(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	return r.student, nil
}

func (r stubRoster) GetClassSection(ctx context.Context, class, section string) (*model.ClassSection, error) {
	return r.section, nil
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
	Warning *struct {
		Code string `json:"code"`
	} `json:"warning"`
}

type harness struct {
	router    *gin.Engine
	engine    *stubEngine
	auth      *service.AuthService
	sessionID uuid.UUID
	token     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sessionID := uuid.New()
	engine := &stubEngine{handle: &session.Handle{
		SessionID: sessionID,
		Phase:     model.PhaseCoding,
		Deadline:  time.Now().Add(90 * time.Minute),
	}}
	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})
	roster := stubRoster{
		student: &model.Student{ID: uuid.New(), Class: "9th", Section: "A"},
		section: &model.ClassSection{Class: "9th", Section: "A", AccessCode: "KNCS9A2025"},
	}
	h := NewExamHandler(service.NewExamService(engine, roster, auth), engine, zerolog.Nop())

	r := gin.New()
	r.POST("/exam/start", h.StartExam)
	r.POST("/exam/resume", h.ResumeExam)
	g := r.Group("/exam/sessions/:id", middleware.RequireSessionJWT(auth), middleware.RequireSessionOwner())
	g.GET("/state", h.GetState)
	g.POST("/answers", h.SubmitAnswer)
	g.POST("/mcq-answers", h.SubmitMCQAnswer)
	g.POST("/coding/submit", h.SubmitCodingSection)
	g.POST("/mcq/submit", h.SubmitMCQSection)
	g.POST("/integrity", h.ReportIntegrityEvent)

	token, err := auth.GenerateSessionToken(sessionID, uuid.New(), engine.handle.Deadline)
	require.NoError(t, err)
	return &harness{router: r, engine: engine, auth: auth, sessionID: sessionID, token: token}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (h *harness) path(suffix string) string {
	return fmt.Sprintf("/exam/sessions/%s%s", h.sessionID, suffix)
}

func TestStartExamIssuesSessionToken(t *testing.T) {
	h := newHarness(t)
	studentID := uuid.New()

	status, env := h.do(t, http.MethodPost, "/exam/start", gin.H{
		"student_id": studentID.String(), "access_code": "KNCS9A2025",
	})
	require.Equal(t, http.StatusCreated, status)

	var entry struct {
		SessionID uuid.UUID `json:"session_id"`
		StudentID uuid.UUID `json:"student_id"`
		Token     string    `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	require.Equal(t, h.sessionID, entry.SessionID)
	require.Equal(t, studentID, entry.StudentID)

	claims, err := h.auth.ValidateToken(entry.Token)
	require.NoError(t, err)
	require.Equal(t, service.TokenTypeSession, claims.TokenType)
	require.Equal(t, h.sessionID, claims.SessionID)
	require.Equal(t, studentID, claims.StudentID)
}

func TestStartExamErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"wrong code", session.ErrInvalidAccessCode, http.StatusForbidden, "INVALID_ACCESS_CODE"},
		{"unknown student", session.ErrStudentNotFound, http.StatusNotFound, "STUDENT_NOT_FOUND"},
		{"completed", session.ErrAlreadyCompleted, http.StatusConflict, "EXAM_ALREADY_COMPLETED"},
		{"active", session.ErrSessionActive, http.StatusConflict, "SESSION_ALREADY_ACTIVE"},
		{"race", session.ErrConcurrentStart, http.StatusConflict, "CONCURRENT_START"},
		{"store down", fmt.Errorf("%w: create session: boom", session.ErrPersistence), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.startErr = tt.err
			status, env := h.do(t, http.MethodPost, "/exam/start", gin.H{
				"student_id": uuid.NewString(), "access_code": "KNCS9A2025",
			})
			require.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			require.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestStartExamValidation(t *testing.T) {
	h := newHarness(t)
	status, env := h.do(t, http.MethodPost, "/exam/start", gin.H{"student_id": "nope"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	require.Contains(t, env.Error.Fields, "student_id")
	require.Contains(t, env.Error.Fields, "access_code")
}

func TestResumeChecksAccessCode(t *testing.T) {
	h := newHarness(t)

	status, env := h.do(t, http.MethodPost, "/exam/resume", gin.H{
		"student_id": uuid.NewString(), "access_code": "WRONG123",
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "INVALID_ACCESS_CODE", env.Error.Code)

	status, _ = h.do(t, http.MethodPost, "/exam/resume", gin.H{
		"student_id": uuid.NewString(), "access_code": " KNCS9A2025 ",
	})
	require.Equal(t, http.StatusOK, status)
}

func TestSubmitAnswerWarnsWhenNotPersisted(t *testing.T) {
	h := newHarness(t)
	body := gin.H{"question_id": uuid.NewString(), "code": "print(1)"}

	h.engine.ack = session.Ack{Persisted: true}
	status, env := h.do(t, http.MethodPost, h.path("/answers"), body)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, env.Warning)
	require.Equal(t, "print(1)", h.engine.gotCode)

	h.engine.ack = session.Ack{Persisted: false}
	status, env = h.do(t, http.MethodPost, h.path("/answers"), body)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.Warning)
	require.Equal(t, "NOT_PERSISTED", env.Warning.Code)
}

func TestSubmitMCQAnswer(t *testing.T) {
	h := newHarness(t)
	h.engine.ack = session.Ack{Persisted: true}

	status, _ := h.do(t, http.MethodPost, h.path("/mcq-answers"), gin.H{
		"question_id": uuid.NewString(), "option_index": 0,
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, h.engine.gotOption)

	status, env := h.do(t, http.MethodPost, h.path("/mcq-answers"), gin.H{"question_id": uuid.NewString()})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, env.Error.Fields, "option_index")

	h.engine.opErr = session.ErrOptionOutOfRange
	status, env = h.do(t, http.MethodPost, h.path("/mcq-answers"), gin.H{
		"question_id": uuid.NewString(), "option_index": 7,
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "OPTION_OUT_OF_RANGE", env.Error.Code)
}

func TestSectionSubmissions(t *testing.T) {
	h := newHarness(t)
	h.engine.coding = session.CodingOutcome{CodingScore: 80, Phase: model.PhaseMCQ, Persisted: true}
	h.engine.mcq = session.MCQOutcome{CodingScore: 80, MCQScore: 60, TotalScore: 76, Persisted: true}

	status, env := h.do(t, http.MethodPost, h.path("/coding/submit"), nil)
	require.Equal(t, http.StatusOK, status)
	var coding session.CodingOutcome
	require.NoError(t, json.Unmarshal(env.Data, &coding))
	require.Equal(t, 80, coding.CodingScore)

	status, env = h.do(t, http.MethodPost, h.path("/mcq/submit"), nil)
	require.Equal(t, http.StatusOK, status)
	var mcq session.MCQOutcome
	require.NoError(t, json.Unmarshal(env.Data, &mcq))
	require.Equal(t, 76, mcq.TotalScore)

	h.engine.opErr = session.ErrInvalidPhase
	status, env = h.do(t, http.MethodPost, h.path("/mcq/submit"), nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "INVALID_PHASE", env.Error.Code)
}

func TestReportIntegrityEvent(t *testing.T) {
	h := newHarness(t)
	h.engine.integrity = session.IntegrityAck{ExitAttempts: 3, FinalWarning: true, Persisted: true}

	status, env := h.do(t, http.MethodPost, h.path("/integrity"), gin.H{"kind": "tab_hidden"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.EventTabHidden, h.engine.gotKind)
	var ack session.IntegrityAck
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	require.True(t, ack.FinalWarning)

	status, env = h.do(t, http.MethodPost, h.path("/integrity"), gin.H{"kind": "screenshot"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestSessionRoutesRequireOwnToken(t *testing.T) {
	h := newHarness(t)
	h.engine.state = session.State{SessionID: h.sessionID, Phase: model.PhaseCoding}

	status, _ := h.do(t, http.MethodGet, h.path("/state"), nil)
	require.Equal(t, http.StatusOK, status)

	other, err := h.auth.GenerateSessionToken(uuid.New(), uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	h.token = other
	status, env := h.do(t, http.MethodGet, h.path("/state"), nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "SESSION_MISMATCH", env.Error.Code)

	h.token = ""
	status, _ = h.do(t, http.MethodGet, h.path("/state"), nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestClassifyUnknownErrors(t *testing.T) {
	status, code := classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "SERVICE_UNAVAILABLE", string(code))

	status, _ = classify(fmt.Errorf("something else"))
	require.Equal(t, http.StatusInternalServerError, status)
}
