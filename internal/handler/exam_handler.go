package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/middleware"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/response"
	"github.com/stemsi/codexam/internal/service"
	"github.com/stemsi/codexam/internal/session"
	"github.com/stemsi/codexam/internal/validator"
)

// SessionEngine is the set of orchestrator operations a running exam uses.
type SessionEngine interface {
	SubmitAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string) (session.Ack, error)
	SubmitMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int) (session.Ack, error)
	SubmitCodingSection(ctx context.Context, sessionID uuid.UUID) (session.CodingOutcome, error)
	SubmitMCQSection(ctx context.Context, sessionID uuid.UUID) (session.MCQOutcome, error)
	ReportIntegrityEvent(ctx context.Context, sessionID uuid.UUID, kind model.IntegrityEventKind, detail string) (session.IntegrityAck, error)
	State(ctx context.Context, sessionID uuid.UUID) (session.State, error)
}

// ExamHandler handles the student-facing exam endpoints.
type ExamHandler struct {
	exams  *service.ExamService
	engine SessionEngine
	log    zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams *service.ExamService, engine SessionEngine, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams:  exams,
		engine: engine,
		log:    log.With().Str("component", "exam_handler").Logger(),
	}
}

// StartExam godoc
// POST /api/v1/exam/start
// Validates the access code, draws the question set and returns the session token.
func (h *ExamHandler) StartExam(c *gin.Context) {
	h.enter(c, h.exams.Start, http.StatusCreated)
}

// ResumeExam godoc
// POST /api/v1/exam/resume
// Re-issues the token of a student's unfinished session.
func (h *ExamHandler) ResumeExam(c *gin.Context) {
	h.enter(c, h.exams.Resume, http.StatusOK)
}

func (h *ExamHandler) enter(c *gin.Context, fn func(context.Context, uuid.UUID, string) (*service.Entry, error), status int) {
	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	entry, err := fn(c.Request.Context(), studentID, req.AccessCode)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, status, entry)
}

// SubmitAnswer godoc
// POST /api/v1/exam/sessions/:id/answers
func (h *ExamHandler) SubmitAnswer(c *gin.Context) {
	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ack, err := h.engine.SubmitAnswer(c.Request.Context(), middleware.SessionID(c), questionID, req.Code)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	succeed(c, ack, ack.Persisted)
}

// SubmitMCQAnswer godoc
// POST /api/v1/exam/sessions/:id/mcq-answers
func (h *ExamHandler) SubmitMCQAnswer(c *gin.Context) {
	var req model.SubmitMCQAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ack, err := h.engine.SubmitMCQAnswer(c.Request.Context(), middleware.SessionID(c), questionID, *req.OptionIndex)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	succeed(c, ack, ack.Persisted)
}

// SubmitCodingSection godoc
// POST /api/v1/exam/sessions/:id/coding/submit
// Grades every coding answer and moves the session to the MCQ phase.
func (h *ExamHandler) SubmitCodingSection(c *gin.Context) {
	out, err := h.engine.SubmitCodingSection(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	succeed(c, out, out.Persisted)
}

// SubmitMCQSection godoc
// POST /api/v1/exam/sessions/:id/mcq/submit
// Scores the MCQ section and completes the exam.
func (h *ExamHandler) SubmitMCQSection(c *gin.Context) {
	out, err := h.engine.SubmitMCQSection(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	succeed(c, out, out.Persisted)
}

// ReportIntegrityEvent godoc
// POST /api/v1/exam/sessions/:id/integrity
func (h *ExamHandler) ReportIntegrityEvent(c *gin.Context) {
	var req model.IntegrityEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ack, err := h.engine.ReportIntegrityEvent(c.Request.Context(), middleware.SessionID(c), req.Kind, req.Detail)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	succeed(c, ack, ack.Persisted)
}

// GetState godoc
// GET /api/v1/exam/sessions/:id/state
func (h *ExamHandler) GetState(c *gin.Context) {
	st, err := h.engine.State(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}
