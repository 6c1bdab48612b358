// Package integrity tracks proctoring violations for live exam sessions.
package integrity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/metrics"
	"github.com/stemsi/codexam/internal/model"
)

// ErrUnknownKind is returned for event kinds the monitor does not recognise.
var ErrUnknownKind = errors.New("unknown integrity event kind")

// Notification tells the presentation layer and proctors about a violation.
type Notification struct {
	SessionID    uuid.UUID                `json:"session_id"`
	StudentID    uuid.UUID                `json:"student_id"`
	StudentName  string                   `json:"student_name"`
	RollNumber   string                   `json:"roll_number"`
	Class        string                   `json:"class"`
	Section      string                   `json:"section"`
	Kind         model.IntegrityEventKind `json:"kind"`
	Phase        model.Phase              `json:"phase"`
	Detail       string                   `json:"detail,omitempty"`
	ExitAttempts int                      `json:"exit_attempts"`
	// FinalWarning is set once the counter reaches the configured threshold.
	FinalWarning bool      `json:"final_warning"`
	At           time.Time `json:"at"`
}

// Event converts the notification to its durable log form.
func (n Notification) Event() model.IntegrityEvent {
	return model.IntegrityEvent{
		SessionID:    n.SessionID,
		StudentID:    n.StudentID,
		Kind:         n.Kind,
		Phase:        n.Phase,
		Detail:       n.Detail,
		ExitAttempts: n.ExitAttempts,
		RecordedAt:   n.At,
	}
}

// Notifier pushes notifications to live listeners.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// EventLog durably records violations for post-hoc review.
type EventLog interface {
	Append(ctx context.Context, e model.IntegrityEvent) error
}

// Monitor applies violation events to sessions. It never ends an exam and never scores.
//
// Observe and PhaseSubmitted mutate the session and must only be called by the
// goroutine that owns it.
type Monitor struct {
	notifier  Notifier
	events    EventLog
	threshold int
	log       zerolog.Logger
}

// NewMonitor creates a Monitor. notifier and events may be nil.
func NewMonitor(notifier Notifier, events EventLog, threshold int, log zerolog.Logger) *Monitor {
	return &Monitor{
		notifier:  notifier,
		events:    events,
		threshold: threshold,
		log:       log.With().Str("component", "integrity_monitor").Logger(),
	}
}

// Observe counts one violation against s. It reports false when the session is
// already terminal, in which case s is left untouched.
func (m *Monitor) Observe(s *model.ExamSession, kind model.IntegrityEventKind, detail string, at time.Time) (Notification, bool, error) {
	if !kind.Valid() {
		return Notification{}, false, ErrUnknownKind
	}
	if s.CurrentPhase.Terminal() {
		return Notification{}, false, nil
	}

	s.ExitAttempts++
	metrics.IntegrityEvents.WithLabelValues(string(kind)).Inc()

	return Notification{
		SessionID:    s.ID,
		StudentID:    s.StudentID,
		StudentName:  s.StudentName,
		RollNumber:   s.RollNumber,
		Class:        s.Class,
		Section:      s.Section,
		Kind:         kind,
		Phase:        s.CurrentPhase,
		Detail:       detail,
		ExitAttempts: s.ExitAttempts,
		FinalWarning: m.threshold > 0 && s.ExitAttempts >= m.threshold,
		At:           at,
	}, true, nil
}

// PhaseSubmitted forgives one violation when a section is handed in. The counter never goes below zero.
func (m *Monitor) PhaseSubmitted(s *model.ExamSession) {
	if s.ExitAttempts > 0 {
		s.ExitAttempts--
	}
}

// Publish fans a notification out to listeners and the event log. Failures are logged, not returned.
func (m *Monitor) Publish(ctx context.Context, n Notification) {
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, n); err != nil {
			m.log.Warn().Err(err).Str("session_id", n.SessionID.String()).Msg("Failed to publish integrity notification")
		}
	}
	if m.events != nil {
		if err := m.events.Append(ctx, n.Event()); err != nil {
			m.log.Error().Err(err).Str("session_id", n.SessionID.String()).Msg("Failed to enqueue integrity event")
		}
	}
}
