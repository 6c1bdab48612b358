package model

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty grades a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// MCQOptionCount is the fixed number of options on a multiple-choice question.
const MCQOptionCount = 4

// TestCase is one stdin/stdout pair used to grade a coding answer.
type TestCase struct {
	ID             uuid.UUID `json:"id"`
	Input          string    `json:"input"`
	ExpectedOutput string    `json:"expected_output"`
	Hidden         bool      `json:"is_hidden"`
}

// Question is a coding question with its ordered test cases.
type Question struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Class        string     `json:"class"`
	Difficulty   Difficulty `json:"difficulty"`
	SampleInput  string     `json:"sample_input,omitempty"`
	SampleOutput string     `json:"sample_output,omitempty"`
	TestCases    []TestCase `json:"test_cases"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MCQQuestion is a multiple-choice question. CorrectAnswer is a 0-based option index.
type MCQQuestion struct {
	ID            uuid.UUID  `json:"id"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correct_answer"`
	Class         string     `json:"class"`
	Difficulty    Difficulty `json:"difficulty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// QuestionView is what a student sees of a coding question.
type QuestionView struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Difficulty   Difficulty `json:"difficulty"`
	SampleInput  string     `json:"sample_input,omitempty"`
	SampleOutput string     `json:"sample_output,omitempty"`
	Examples     []TestCase `json:"examples"`
	TotalTests   int        `json:"total_tests"`
}

// MCQView is what a student sees of a multiple-choice question.
type MCQView struct {
	ID       uuid.UUID `json:"id"`
	Question string    `json:"question"`
	Options  []string  `json:"options"`
}

// View strips hidden test cases.
func (q *Question) View() QuestionView {
	examples := make([]TestCase, 0, len(q.TestCases))
	for _, tc := range q.TestCases {
		if !tc.Hidden {
			examples = append(examples, tc)
		}
	}
	return QuestionView{
		ID:           q.ID,
		Title:        q.Title,
		Description:  q.Description,
		Difficulty:   q.Difficulty,
		SampleInput:  q.SampleInput,
		SampleOutput: q.SampleOutput,
		Examples:     examples,
		TotalTests:   len(q.TestCases),
	}
}

// View strips the correct answer.
func (q *MCQQuestion) View() MCQView {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return MCQView{ID: q.ID, Question: q.Question, Options: opts}
}
