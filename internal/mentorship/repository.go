package mentorship

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/scorecard/internal/periods"
)

// Repository reads mentorship windows owned by the mentorship module.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres backed mentorship reader.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveWindow returns the most recent active mentorship of the company, nil when none.
func (r *Repository) ActiveWindow(ctx context.Context, companyID uuid.UUID) (*periods.MentorshipWindow, error) {
	const query = `SELECT id, start_date, end_date
		FROM mentorships
		WHERE company_id = $1 AND active
		ORDER BY start_date DESC
		LIMIT 1`
	var w periods.MentorshipWindow
	err := r.pool.QueryRow(ctx, query, companyID).Scan(&w.ID, &w.StartDate, &w.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
