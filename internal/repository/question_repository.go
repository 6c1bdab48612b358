package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

// QuestionRepository handles the coding and multiple-choice question banks.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByClass retrieves every coding question of a class with its test cases in order.
func (r *QuestionRepository) ListByClass(ctx context.Context, class string) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, class, difficulty, sample_input, sample_output, created_at
		 FROM questions WHERE class = $1
		 ORDER BY created_at, id`, class,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Title, &q.Description, &q.Class, &q.Difficulty, &q.SampleInput, &q.SampleOutput, &q.CreatedAt); err != nil {
			return nil, err
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return questions, nil
	}

	ids := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	tcRows, err := r.pool.Query(ctx,
		`SELECT id, question_id, input, expected_output, is_hidden
		 FROM test_cases WHERE question_id = ANY($1)
		 ORDER BY question_id, position`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer tcRows.Close()

	for tcRows.Next() {
		var tc model.TestCase
		var questionID uuid.UUID
		if err := tcRows.Scan(&tc.ID, &questionID, &tc.Input, &tc.ExpectedOutput, &tc.Hidden); err != nil {
			return nil, err
		}
		if i, ok := index[questionID]; ok {
			questions[i].TestCases = append(questions[i].TestCases, tc)
		}
	}
	if err := tcRows.Err(); err != nil {
		return nil, err
	}

	// A question without test cases cannot be graded.
	out := questions[:0]
	for _, q := range questions {
		if len(q.TestCases) > 0 {
			out = append(out, q)
		}
	}
	return out, nil
}

// ListMCQByClass retrieves every multiple-choice question of a class.
func (r *QuestionRepository) ListMCQByClass(ctx context.Context, class string) ([]model.MCQQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question, options, correct_answer, class, difficulty, created_at
		 FROM mcq_questions WHERE class = $1
		 ORDER BY created_at, id`, class,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.MCQQuestion
	for rows.Next() {
		var q model.MCQQuestion
		if err := rows.Scan(&q.ID, &q.Question, &q.Options, &q.CorrectAnswer, &q.Class, &q.Difficulty, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a coding question together with its test cases.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO questions (title, description, class, difficulty, sample_input, sample_output)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			q.Title, q.Description, q.Class, q.Difficulty, q.SampleInput, q.SampleOutput,
		).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		for i := range q.TestCases {
			tc := &q.TestCases[i]
			err := tx.QueryRow(ctx,
				`INSERT INTO test_cases (question_id, position, input, expected_output, is_hidden)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id`,
				q.ID, i, tc.Input, tc.ExpectedOutput, tc.Hidden,
			).Scan(&tc.ID)
			if err != nil {
				return fmt.Errorf("insert test case %d: %w", i, err)
			}
		}
		return nil
	})
}

// CreateMCQ inserts a multiple-choice question.
func (r *QuestionRepository) CreateMCQ(ctx context.Context, q *model.MCQQuestion) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO mcq_questions (question, options, correct_answer, class, difficulty)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		q.Question, q.Options, q.CorrectAnswer, q.Class, q.Difficulty,
	).Scan(&q.ID, &q.CreatedAt)
}
