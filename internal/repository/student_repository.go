package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// GetByID retrieves a student by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, roll_number, class, section, created_at
		 FROM students WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.RollNumber, &s.Class, &s.Section, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// Upsert inserts a student or refreshes the name of an existing roll number.
func (r *StudentRepository) Upsert(ctx context.Context, s *model.Student) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO students (name, roll_number, class, section)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (class, section, roll_number) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, created_at`,
		s.Name, s.RollNumber, s.Class, s.Section,
	).Scan(&s.ID, &s.CreatedAt)
}

// ListByClassSection returns the roster of one section ordered by roll number.
func (r *StudentRepository) ListByClassSection(ctx context.Context, class, section string) ([]model.Student, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, roll_number, class, section, created_at
		 FROM students WHERE class = $1 AND section = $2
		 ORDER BY roll_number`, class, section,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.Name, &s.RollNumber, &s.Class, &s.Section, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}
