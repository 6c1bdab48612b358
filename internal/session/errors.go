package session

import "errors"

// Kind classifies orchestrator errors for callers that map them to transport codes.
type Kind int

const (
	// KindValidation errors are caused by the request and never change session state.
	KindValidation Kind = iota + 1
	// KindConcurrency errors lose a race against another StartExam.
	KindConcurrency
	// KindPersistence errors come from the Store.
	KindPersistence
	// KindUnavailable errors mean the orchestrator is shutting down.
	KindUnavailable
)

// Error is a classified orchestrator error. Values are compared by identity.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

var (
	ErrStudentNotFound   = &Error{KindValidation, "student not found"}
	ErrInvalidAccessCode = &Error{KindValidation, "invalid access code"}
	ErrAlreadyCompleted  = &Error{KindValidation, "exam already completed"}
	ErrUnknownSession    = &Error{KindValidation, "session not found"}
	ErrInvalidPhase      = &Error{KindValidation, "action not allowed in the current phase"}
	ErrUnknownQuestion   = &Error{KindValidation, "question is not part of this session"}
	ErrOptionOutOfRange  = &Error{KindValidation, "option index out of range"}
	ErrUnknownEventKind  = &Error{KindValidation, "unknown integrity event kind"}

	ErrSessionActive   = &Error{KindConcurrency, "an exam session is already in progress"}
	ErrConcurrentStart = &Error{KindConcurrency, "exam start already in progress"}

	ErrPersistence  = &Error{KindPersistence, "session store unavailable"}
	ErrShuttingDown = &Error{KindUnavailable, "exam service is shutting down"}
)

// KindOf returns the classification of err, or 0 when err is not an orchestrator error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
