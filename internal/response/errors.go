package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"
	ErrSessionMismatch   ErrCode = "SESSION_MISMATCH"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrStudentNotFound    ErrCode = "STUDENT_NOT_FOUND"
	ErrInvalidAccessCode  ErrCode = "INVALID_ACCESS_CODE"
	ErrExamCompleted      ErrCode = "EXAM_ALREADY_COMPLETED"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrConcurrentStart    ErrCode = "CONCURRENT_START"
	ErrUnknownSession     ErrCode = "UNKNOWN_SESSION"
	ErrInvalidPhase       ErrCode = "INVALID_PHASE"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrOptionOutOfRange   ErrCode = "OPTION_OUT_OF_RANGE"
	ErrUnknownEventKind   ErrCode = "UNKNOWN_EVENT_KIND"
	ErrNotPersisted       ErrCode = "NOT_PERSISTED"
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to perform this action."
	case ErrStudentAccessOnly:
		return "This endpoint is for exam sessions only."
	case ErrAdminAccessOnly:
		return "This endpoint is for administrators only."
	case ErrSessionMismatch:
		return "The token does not belong to this exam session."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "The submitted data is invalid."
	case ErrInvalidID:
		return "The ID format is invalid."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrStudentNotFound:
		return "Student is not on the roster."
	case ErrInvalidAccessCode:
		return "The access code is not valid for your class section."
	case ErrExamCompleted:
		return "You have already completed this exam."
	case ErrSessionActive:
		return "An exam session is already in progress for this student."
	case ErrConcurrentStart:
		return "Another start request for this student is in progress. Try again."
	case ErrUnknownSession:
		return "Exam session not found."
	case ErrInvalidPhase:
		return "This action is not allowed in the current exam phase."
	case ErrUnknownQuestion:
		return "The question is not part of this exam session."
	case ErrOptionOutOfRange:
		return "The selected option does not exist."
	case ErrUnknownEventKind:
		return "Unknown integrity event kind."
	case ErrNotPersisted:
		return "Saved in memory but not yet written to storage. It will be retried."
	case ErrServiceUnavailable:
		return "The exam service is temporarily unavailable."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please wait a moment."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."

	default:
		return "An unknown error occurred."
	}
}
