package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

// ClassSectionRepository handles access codes and exam durations.
type ClassSectionRepository struct {
	pool *pgxpool.Pool
}

// NewClassSectionRepository creates a new ClassSectionRepository.
func NewClassSectionRepository(pool *pgxpool.Pool) *ClassSectionRepository {
	return &ClassSectionRepository{pool: pool}
}

// Get retrieves one class section.
func (r *ClassSectionRepository) Get(ctx context.Context, class, section string) (*model.ClassSection, error) {
	cs := &model.ClassSection{}
	err := r.pool.QueryRow(ctx,
		`SELECT class, section, access_code, duration_minutes, updated_at
		 FROM class_sections WHERE class = $1 AND section = $2`, class, section,
	).Scan(&cs.Class, &cs.Section, &cs.AccessCode, &cs.DurationMinutes, &cs.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return cs, nil
}

// List returns every class section ordered by class and section.
func (r *ClassSectionRepository) List(ctx context.Context) ([]model.ClassSection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT class, section, access_code, duration_minutes, updated_at
		 FROM class_sections ORDER BY class, section`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClassSection
	for rows.Next() {
		var cs model.ClassSection
		if err := rows.Scan(&cs.Class, &cs.Section, &cs.AccessCode, &cs.DurationMinutes, &cs.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Upsert creates or replaces a class section.
func (r *ClassSectionRepository) Upsert(ctx context.Context, cs *model.ClassSection) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO class_sections (class, section, access_code, duration_minutes)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (class, section) DO UPDATE
		 SET access_code = EXCLUDED.access_code, duration_minutes = EXCLUDED.duration_minutes, updated_at = NOW()
		 RETURNING updated_at`,
		cs.Class, cs.Section, cs.AccessCode, cs.DurationMinutes,
	).Scan(&cs.UpdatedAt)
}

// UpdateAccessCode rotates the access code. Running sessions are unaffected.
func (r *ClassSectionRepository) UpdateAccessCode(ctx context.Context, class, section, code string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE class_sections SET access_code = $1, updated_at = NOW()
		 WHERE class = $2 AND section = $3`,
		code, class, section,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
