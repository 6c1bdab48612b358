package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

const sessionColumns = `id, student_id, student_name, roll_number, class, section, start_time, deadline,
	coding_end_time, end_time, is_submitted, current_phase, coding_score, mcq_score, total_score,
	exit_attempts, version`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ExamSessionRepository persists exam sessions and their assigned questions.
//
// Every write is guarded by the session version: a write older than the stored
// row is silently dropped.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// Create inserts a new session with its question snapshot. A second session for
// the same student yields ErrDuplicateSession.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO exam_sessions (`+sessionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			 ON CONFLICT (student_id) DO NOTHING
			 RETURNING id`,
			sessionArgs(s)...,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return writeChildren(ctx, tx, s)
	})
}

// Save upserts the session row and every child row in one transaction.
func (r *ExamSessionRepository) Save(ctx context.Context, s *model.ExamSession) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO exam_sessions (`+sessionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			 ON CONFLICT (id) DO UPDATE SET
			     deadline = EXCLUDED.deadline,
			     coding_end_time = EXCLUDED.coding_end_time,
			     end_time = EXCLUDED.end_time,
			     is_submitted = EXCLUDED.is_submitted,
			     current_phase = EXCLUDED.current_phase,
			     coding_score = EXCLUDED.coding_score,
			     mcq_score = EXCLUDED.mcq_score,
			     total_score = EXCLUDED.total_score,
			     exit_attempts = EXCLUDED.exit_attempts,
			     version = EXCLUDED.version,
			     updated_at = NOW()
			 WHERE exam_sessions.version <= EXCLUDED.version`,
			sessionArgs(s)...,
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return writeChildren(ctx, tx, s)
	})
}

// SaveAnswer stores the code for one assigned question.
func (r *ExamSessionRepository) SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, code string, version int64) error {
	_, err := r.pool.Exec(ctx,
		`WITH bumped AS (
		     UPDATE exam_sessions SET version = $4, updated_at = NOW()
		     WHERE id = $1 AND version < $4
		     RETURNING id
		 )
		 UPDATE exam_questions SET answer = $3
		 FROM bumped
		 WHERE exam_questions.session_id = bumped.id AND exam_questions.question_id = $2`,
		sessionID, questionID, code, version,
	)
	return err
}

// SaveMCQAnswer stores the selected option for one assigned MCQ.
func (r *ExamSessionRepository) SaveMCQAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option int, version int64) error {
	_, err := r.pool.Exec(ctx,
		`WITH bumped AS (
		     UPDATE exam_sessions SET version = $4, updated_at = NOW()
		     WHERE id = $1 AND version < $4
		     RETURNING id
		 )
		 UPDATE exam_mcq_questions SET selected_option = $3
		 FROM bumped
		 WHERE exam_mcq_questions.session_id = bumped.id AND exam_mcq_questions.question_id = $2`,
		sessionID, questionID, option, version,
	)
	return err
}

// UpdateExitAttempts stores the violation counter.
func (r *ExamSessionRepository) UpdateExitAttempts(ctx context.Context, sessionID uuid.UUID, exitAttempts int, version int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET exit_attempts = $2, version = $3, updated_at = NOW()
		 WHERE id = $1 AND version < $3`,
		sessionID, exitAttempts, version,
	)
	return err
}

// GetByID loads a session with its questions and answers.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := loadChildren(ctx, r.pool, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByStudent loads the session owned by a student.
func (r *ExamSessionRepository) GetByStudent(ctx context.Context, studentID uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE student_id = $1`, studentID))
	if err != nil {
		return nil, notFound(err)
	}
	if err := loadChildren(ctx, r.pool, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListActive loads every session that has not been completed.
func (r *ExamSessionRepository) ListActive(ctx context.Context) ([]*model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE current_phase <> 'completed'
		 ORDER BY start_time`)
	if err != nil {
		return nil, err
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.ExamSession, error) {
		return scanSession(row)
	})
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if err := loadChildren(ctx, r.pool, s); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// ListSummaries returns one row per session, live or completed, optionally filtered by class.
func (r *ExamSessionRepository) ListSummaries(ctx context.Context, class string) ([]model.ExamResult, error) {
	query := `SELECT id, student_id, student_name, roll_number, class, section, current_phase,
	                 start_time, end_time, coding_score, mcq_score, total_score, exit_attempts
	          FROM exam_sessions`
	var args []any
	if class != "" {
		query += ` WHERE class = $1`
		args = append(args, class)
	}
	query += ` ORDER BY class, section, roll_number`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamResult
	for rows.Next() {
		var e model.ExamResult
		if err := rows.Scan(&e.SessionID, &e.StudentID, &e.Name, &e.RollNumber, &e.Class, &e.Section, &e.Phase,
			&e.StartTime, &e.EndTime, &e.CodingScore, &e.MCQScore, &e.TotalScore, &e.ExitAttempts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func sessionArgs(s *model.ExamSession) []any {
	return []any{
		s.ID, s.StudentID, s.StudentName, s.RollNumber, s.Class, s.Section, s.StartTime, s.Deadline,
		s.CodingEndTime, s.EndTime, s.IsSubmitted, s.CurrentPhase, s.CodingScore, s.MCQScore, s.TotalScore,
		s.ExitAttempts, s.Version,
	}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{
		Answers:    make(map[uuid.UUID]string),
		MCQAnswers: make(map[uuid.UUID]int),
		Results:    make(map[uuid.UUID]model.EvaluationResult),
		MCQResults: make(map[uuid.UUID]bool),
	}
	err := row.Scan(&s.ID, &s.StudentID, &s.StudentName, &s.RollNumber, &s.Class, &s.Section, &s.StartTime, &s.Deadline,
		&s.CodingEndTime, &s.EndTime, &s.IsSubmitted, &s.CurrentPhase, &s.CodingScore, &s.MCQScore, &s.TotalScore,
		&s.ExitAttempts, &s.Version)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func writeChildren(ctx context.Context, tx pgx.Tx, s *model.ExamSession) error {
	batch := &pgx.Batch{}

	for i := range s.Questions {
		q := &s.Questions[i]
		question, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		var answer *string
		if code, ok := s.Answers[q.ID]; ok {
			answer = &code
		}
		var result []byte
		if res, ok := s.Results[q.ID]; ok {
			if result, err = json.Marshal(res); err != nil {
				return fmt.Errorf("marshal result %s: %w", q.ID, err)
			}
		}
		batch.Queue(
			`INSERT INTO exam_questions (session_id, question_id, position, question, answer, result)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET answer = EXCLUDED.answer, result = EXCLUDED.result`,
			s.ID, q.ID, i, question, answer, result,
		)
	}

	for i := range s.MCQQuestions {
		q := &s.MCQQuestions[i]
		question, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal mcq %s: %w", q.ID, err)
		}
		var selected *int
		if opt, ok := s.MCQAnswers[q.ID]; ok {
			selected = &opt
		}
		var correct *bool
		if hit, ok := s.MCQResults[q.ID]; ok {
			correct = &hit
		}
		batch.Queue(
			`INSERT INTO exam_mcq_questions (session_id, question_id, position, question, selected_option, is_correct)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, question_id) DO UPDATE
			 SET selected_option = EXCLUDED.selected_option, is_correct = EXCLUDED.is_correct`,
			s.ID, q.ID, i, question, selected, correct,
		)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write session questions: %w", err)
	}
	return nil
}

func loadChildren(ctx context.Context, q querier, s *model.ExamSession) error {
	rows, err := q.Query(ctx,
		`SELECT question, answer, result FROM exam_questions
		 WHERE session_id = $1 ORDER BY position`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			raw    []byte
			answer *string
			result []byte
		)
		if err := rows.Scan(&raw, &answer, &result); err != nil {
			return err
		}
		var question model.Question
		if err := json.Unmarshal(raw, &question); err != nil {
			return fmt.Errorf("decode question: %w", err)
		}
		s.Questions = append(s.Questions, question)
		if answer != nil {
			s.Answers[question.ID] = *answer
		}
		if result != nil {
			var res model.EvaluationResult
			if err := json.Unmarshal(result, &res); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
			s.Results[question.ID] = res
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	mcqRows, err := q.Query(ctx,
		`SELECT question, selected_option, is_correct FROM exam_mcq_questions
		 WHERE session_id = $1 ORDER BY position`, s.ID)
	if err != nil {
		return err
	}
	defer mcqRows.Close()
	for mcqRows.Next() {
		var (
			raw      []byte
			selected *int
			correct  *bool
		)
		if err := mcqRows.Scan(&raw, &selected, &correct); err != nil {
			return err
		}
		var question model.MCQQuestion
		if err := json.Unmarshal(raw, &question); err != nil {
			return fmt.Errorf("decode mcq: %w", err)
		}
		s.MCQQuestions = append(s.MCQQuestions, question)
		if selected != nil {
			s.MCQAnswers[question.ID] = *selected
		}
		if correct != nil {
			s.MCQResults[question.ID] = *correct
		}
	}
	return mcqRows.Err()
}
