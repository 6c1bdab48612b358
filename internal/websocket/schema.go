package websocket

import (
	"encoding/json"
	"time"

	"github.com/stemsi/codexam/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer       Action = "answer"
	ActionMCQAnswer    Action = "mcq_answer"
	ActionIntegrity    Action = "integrity"
	ActionSubmitCoding Action = "submit_coding"
	ActionSubmitMCQ    Action = "submit_mcq"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action          `json:"action"`
	Ref    string          `json:"ref,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// AnswerRequest saves the code for one coding question.
type AnswerRequest = model.SubmitAnswerRequest

// MCQAnswerRequest records one MCQ choice.
type MCQAnswerRequest = model.SubmitMCQAnswerRequest

// IntegrityRequest reports a proctoring violation.
type IntegrityRequest = model.IntegrityEventRequest

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventAck        Event = "ack"
	EventCoding     Event = "coding_submitted"
	EventCompleted  Event = "completed"
	EventIntegrity  Event = "integrity"
	EventPong       Event = "pong"
	EventBroadcast  Event = "session_event"
	EventConnection Event = "connected"
)

// Reply is the single server-to-client frame. Ref echoes the request's ref so
// clients can match replies to actions sent over the same socket.
type Reply struct {
	Event   Event       `json:"event"`
	Ref     string      `json:"ref,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

// ErrorBody mirrors the HTTP error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
