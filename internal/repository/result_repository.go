package repository

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

// ResultFilter narrows result listings. Empty fields match everything.
type ResultFilter struct {
	Class   string
	Section string
}

// ResultRepository handles the append-only results collection.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Record appends the result of a completed session. Replays are no-ops.
func (r *ResultRepository) Record(ctx context.Context, s *model.ExamSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_results (session_id, student_id, name, roll_number, class, section,
		                           start_time, end_time, coding_score, mcq_score, total_score, exit_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (session_id) DO NOTHING`,
		s.ID, s.StudentID, s.StudentName, s.RollNumber, s.Class, s.Section,
		s.StartTime, s.EndTime, s.CodingScore, s.MCQScore, s.TotalScore, s.ExitAttempts,
	)
	return err
}

func (f ResultFilter) where(args []any) (string, []any) {
	clause := ""
	if f.Class != "" {
		args = append(args, f.Class)
		clause += " AND class = $" + strconv.Itoa(len(args))
	}
	if f.Section != "" {
		args = append(args, f.Section)
		clause += " AND section = $" + strconv.Itoa(len(args))
	}
	return clause, args
}

// ListPaginated retrieves results ordered by class, section and roll number.
func (r *ResultRepository) ListPaginated(ctx context.Context, f ResultFilter, limit, offset int) ([]model.ExamResult, int, error) {
	clause, args := f.where(nil)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exam_results WHERE TRUE`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT session_id, student_id, name, roll_number, class, section, start_time, end_time,
	                 coding_score, mcq_score, total_score, exit_attempts
	          FROM exam_results WHERE TRUE` + clause +
		` ORDER BY class, section, roll_number LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	results, err := r.query(ctx, query, args...)
	return results, total, err
}

// ListAll retrieves every matching result, for export.
func (r *ResultRepository) ListAll(ctx context.Context, f ResultFilter) ([]model.ExamResult, error) {
	clause, args := f.where(nil)
	return r.query(ctx,
		`SELECT session_id, student_id, name, roll_number, class, section, start_time, end_time,
		        coding_score, mcq_score, total_score, exit_attempts
		 FROM exam_results WHERE TRUE`+clause+` ORDER BY class, section, roll_number`, args...)
}

func (r *ResultRepository) query(ctx context.Context, sql string, args ...any) ([]model.ExamResult, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamResult
	for rows.Next() {
		e := model.ExamResult{Phase: model.PhaseCompleted}
		if err := rows.Scan(&e.SessionID, &e.StudentID, &e.Name, &e.RollNumber, &e.Class, &e.Section,
			&e.StartTime, &e.EndTime, &e.CodingScore, &e.MCQScore, &e.TotalScore, &e.ExitAttempts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
