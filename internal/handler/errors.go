package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/response"
	"github.com/stemsi/codexam/internal/session"
)

var sessionCodes = map[*session.Error]struct {
	status int
	code   response.ErrCode
}{
	session.ErrStudentNotFound:   {http.StatusNotFound, response.ErrStudentNotFound},
	session.ErrInvalidAccessCode: {http.StatusForbidden, response.ErrInvalidAccessCode},
	session.ErrAlreadyCompleted:  {http.StatusConflict, response.ErrExamCompleted},
	session.ErrUnknownSession:    {http.StatusNotFound, response.ErrUnknownSession},
	session.ErrInvalidPhase:      {http.StatusConflict, response.ErrInvalidPhase},
	session.ErrUnknownQuestion:   {http.StatusBadRequest, response.ErrUnknownQuestion},
	session.ErrOptionOutOfRange:  {http.StatusBadRequest, response.ErrOptionOutOfRange},
	session.ErrUnknownEventKind:  {http.StatusBadRequest, response.ErrUnknownEventKind},
	session.ErrSessionActive:     {http.StatusConflict, response.ErrSessionActive},
	session.ErrConcurrentStart:   {http.StatusConflict, response.ErrConcurrentStart},
	session.ErrPersistence:       {http.StatusServiceUnavailable, response.ErrServiceUnavailable},
	session.ErrShuttingDown:      {http.StatusServiceUnavailable, response.ErrServiceUnavailable},
}

// classify maps an orchestrator error to an HTTP status and API code.
func classify(err error) (int, response.ErrCode) {
	var se *session.Error
	if errors.As(err, &se) {
		if m, ok := sessionCodes[se]; ok {
			return m.status, m.code
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, response.ErrServiceUnavailable
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failSession writes the error response for err. Server-side failures are logged.
func failSession(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Msg("Exam request failed")
	}
	response.Fail(c, status, code)
}

// succeed writes data, adding a warning when the change is only held in memory.
func succeed(c *gin.Context, data interface{}, persisted bool) {
	if !persisted {
		response.SuccessWithWarning(c, http.StatusOK, data, response.ErrNotPersisted)
		return
	}
	response.Success(c, http.StatusOK, data)
}
