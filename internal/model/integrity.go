package model

import (
	"time"

	"github.com/google/uuid"
)

// IntegrityEventKind enumerates proctoring violations a client can report.
type IntegrityEventKind string

const (
	EventFocusLost         IntegrityEventKind = "focus_lost"
	EventFullscreenExited  IntegrityEventKind = "fullscreen_exited"
	EventForbiddenShortcut IntegrityEventKind = "forbidden_shortcut"
	EventTabHidden         IntegrityEventKind = "tab_hidden"
)

// Valid reports whether k is a known event kind.
func (k IntegrityEventKind) Valid() bool {
	switch k {
	case EventFocusLost, EventFullscreenExited, EventForbiddenShortcut, EventTabHidden:
		return true
	}
	return false
}

// IntegrityEvent is the durable log entry for one violation.
type IntegrityEvent struct {
	ID           int64              `json:"id"`
	SessionID    uuid.UUID          `json:"session_id"`
	StudentID    uuid.UUID          `json:"student_id"`
	Kind         IntegrityEventKind `json:"kind"`
	Phase        Phase              `json:"phase"`
	Detail       string             `json:"detail,omitempty"`
	ExitAttempts int                `json:"exit_attempts"`
	RecordedAt   time.Time          `json:"recorded_at"`
}
