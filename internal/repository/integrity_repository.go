package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/codexam/internal/model"
)

var integrityColumns = []string{"session_id", "student_id", "kind", "phase", "detail", "exit_attempts", "recorded_at"}

// IntegrityRepository stores the proctoring violation log.
type IntegrityRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrityRepository creates a new IntegrityRepository.
func NewIntegrityRepository(pool *pgxpool.Pool) *IntegrityRepository {
	return &IntegrityRepository{pool: pool}
}

// CopyEvents bulk-inserts events with the COPY protocol.
func (r *IntegrityRepository) CopyEvents(ctx context.Context, events []model.IntegrityEvent) (int64, error) {
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"integrity_events"},
		integrityColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.SessionID, e.StudentID, string(e.Kind), string(e.Phase), e.Detail, e.ExitAttempts, e.RecordedAt}, nil
		}),
	)
}

// Insert writes a single event.
func (r *IntegrityRepository) Insert(ctx context.Context, e *model.IntegrityEvent) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO integrity_events (session_id, student_id, kind, phase, detail, exit_attempts, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		e.SessionID, e.StudentID, e.Kind, e.Phase, e.Detail, e.ExitAttempts, e.RecordedAt,
	).Scan(&e.ID)
}

// ListBySession returns the violations of one session in the order they happened.
func (r *IntegrityRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.IntegrityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, student_id, kind, phase, detail, exit_attempts, recorded_at
		 FROM integrity_events WHERE session_id = $1
		 ORDER BY recorded_at, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.IntegrityEvent
	for rows.Next() {
		var e model.IntegrityEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StudentID, &e.Kind, &e.Phase, &e.Detail, &e.ExitAttempts, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
