package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Phase is the stage of an exam attempt. Phases only move forward.
type Phase string

const (
	PhaseCoding    Phase = "coding"
	PhaseMCQ       Phase = "mcq"
	PhaseCompleted Phase = "completed"
)

// Next returns the phase that follows p, or p itself when terminal.
func (p Phase) Next() Phase {
	switch p {
	case PhaseCoding:
		return PhaseMCQ
	case PhaseMCQ:
		return PhaseCompleted
	default:
		return p
	}
}

// Terminal reports whether no further mutation is allowed.
func (p Phase) Terminal() bool { return p == PhaseCompleted }

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseCoding || p == PhaseMCQ || p == PhaseCompleted
}

// Score weights for the final result.
const (
	CodingWeight = 0.8
	MCQWeight    = 0.2
)

// TotalScore combines the section scores into the final grade.
func TotalScore(coding, mcq int) int {
	return int(math.Round(float64(coding)*CodingWeight + float64(mcq)*MCQWeight))
}

// TestResult is the verdict for a single test case.
type TestResult struct {
	TestCaseID     uuid.UUID `json:"test_case_id"`
	Passed         bool      `json:"passed"`
	ActualOutput   string    `json:"actual_output"`
	ExpectedOutput string    `json:"expected_output"`
	ExecutionTime  int64     `json:"execution_time_ms"`
	Error          string    `json:"error,omitempty"`
	// Stderr is raw interpreter output, kept for administrators only.
	Stderr string `json:"stderr,omitempty"`
}

// EvaluationResult aggregates the test verdicts for one coding question.
type EvaluationResult struct {
	QuestionID    uuid.UUID    `json:"question_id"`
	Code          string       `json:"code"`
	TestResults   []TestResult `json:"test_results"`
	Score         int          `json:"score"`
	TotalTests    int          `json:"total_tests"`
	PassedTests   int          `json:"passed_tests"`
	ExecutionTime int64        `json:"execution_time_ms"`
	HasError      bool         `json:"has_error"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// ForStudent drops raw stderr and the expected output of hidden tests.
func (r EvaluationResult) ForStudent(q *Question) EvaluationResult {
	hidden := make(map[uuid.UUID]bool, len(q.TestCases))
	for _, tc := range q.TestCases {
		hidden[tc.ID] = tc.Hidden
	}
	out := r
	out.TestResults = make([]TestResult, len(r.TestResults))
	for i, tr := range r.TestResults {
		tr.Stderr = ""
		if hidden[tr.TestCaseID] {
			tr.ExpectedOutput = ""
			tr.ActualOutput = ""
		}
		out.TestResults[i] = tr
	}
	return out
}

// ExamSession is one student's attempt.
type ExamSession struct {
	ID           uuid.UUID     `json:"id"`
	StudentID    uuid.UUID     `json:"student_id"`
	StudentName  string        `json:"student_name"`
	RollNumber   string        `json:"roll_number"`
	Class        string        `json:"class"`
	Section      string        `json:"section"`
	Questions    []Question    `json:"questions"`
	MCQQuestions []MCQQuestion `json:"mcq_questions"`

	Answers    map[uuid.UUID]string           `json:"answers"`
	MCQAnswers map[uuid.UUID]int              `json:"mcq_answers"`
	Results    map[uuid.UUID]EvaluationResult `json:"results"`
	MCQResults map[uuid.UUID]bool             `json:"mcq_results"`

	StartTime     time.Time  `json:"start_time"`
	Deadline      time.Time  `json:"deadline"`
	CodingEndTime *time.Time `json:"coding_end_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`

	IsSubmitted  bool  `json:"is_submitted"`
	CurrentPhase Phase `json:"current_phase"`
	CodingScore  int   `json:"coding_score"`
	MCQScore     int   `json:"mcq_score"`
	TotalScore   int   `json:"total_score"`
	ExitAttempts int   `json:"exit_attempts"`
	// Version increases on every mutation; stores ignore writes older than what they hold.
	Version int64 `json:"version"`
}

// NewExamSession returns a session in the coding phase with empty answer maps.
func NewExamSession(student *Student, questions []Question, mcqs []MCQQuestion, start time.Time, duration time.Duration) *ExamSession {
	return &ExamSession{
		ID:           uuid.New(),
		StudentID:    student.ID,
		StudentName:  student.Name,
		RollNumber:   student.RollNumber,
		Class:        student.Class,
		Section:      student.Section,
		Questions:    questions,
		MCQQuestions: mcqs,
		Answers:      make(map[uuid.UUID]string),
		MCQAnswers:   make(map[uuid.UUID]int),
		Results:      make(map[uuid.UUID]EvaluationResult),
		MCQResults:   make(map[uuid.UUID]bool),
		StartTime:    start,
		Deadline:     start.Add(duration),
		CurrentPhase: PhaseCoding,
		Version:      1,
	}
}

// Question looks up an assigned coding question.
func (s *ExamSession) Question(id uuid.UUID) (*Question, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i], true
		}
	}
	return nil, false
}

// MCQ looks up an assigned multiple-choice question.
func (s *ExamSession) MCQ(id uuid.UUID) (*MCQQuestion, bool) {
	for i := range s.MCQQuestions {
		if s.MCQQuestions[i].ID == id {
			return &s.MCQQuestions[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to hand out of the owning goroutine.
func (s *ExamSession) Clone() *ExamSession {
	c := *s
	c.Questions = make([]Question, len(s.Questions))
	for i, q := range s.Questions {
		q.TestCases = append([]TestCase(nil), q.TestCases...)
		c.Questions[i] = q
	}
	c.MCQQuestions = make([]MCQQuestion, len(s.MCQQuestions))
	for i, q := range s.MCQQuestions {
		q.Options = append([]string(nil), q.Options...)
		c.MCQQuestions[i] = q
	}
	c.Answers = make(map[uuid.UUID]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	c.MCQAnswers = make(map[uuid.UUID]int, len(s.MCQAnswers))
	for k, v := range s.MCQAnswers {
		c.MCQAnswers[k] = v
	}
	c.Results = make(map[uuid.UUID]EvaluationResult, len(s.Results))
	for k, v := range s.Results {
		v.TestResults = append([]TestResult(nil), v.TestResults...)
		c.Results[k] = v
	}
	c.MCQResults = make(map[uuid.UUID]bool, len(s.MCQResults))
	for k, v := range s.MCQResults {
		c.MCQResults[k] = v
	}
	if s.CodingEndTime != nil {
		t := *s.CodingEndTime
		c.CodingEndTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}

// ─── Request payloads ───────────────────────────────────────────────

// SubmitAnswerRequest saves the code for one coding question.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Code       string `json:"code" binding:"max=65536"`
}

// SubmitMCQAnswerRequest records the chosen option for one MCQ.
type SubmitMCQAnswerRequest struct {
	QuestionID  string `json:"question_id" binding:"required,uuid"`
	OptionIndex *int   `json:"option_index" binding:"required"`
}

// IntegrityEventRequest reports a proctoring violation.
type IntegrityEventRequest struct {
	Kind   IntegrityEventKind `json:"kind" binding:"required,oneof=focus_lost fullscreen_exited forbidden_shortcut tab_hidden"`
	Detail string             `json:"detail" binding:"max=256"`
}
