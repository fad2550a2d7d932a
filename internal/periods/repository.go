package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/scorecard/internal/platform/db"
)

// Repository defines evaluation period data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	ListPeriods(ctx context.Context, companyID uuid.UUID) ([]Period, error)
	FindOpenPeriod(ctx context.Context, companyID uuid.UUID) (*Period, error)
	ListSnapshots(ctx context.Context, periodIDs []uuid.UUID) (map[uuid.UUID][]Snapshot, error)
	FirstReferenceDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error)
	ListAnchoredCompanies(ctx context.Context) ([]uuid.UUID, error)
}

// TxRepository defines operations within one unit of work. ReplaceSnapshots is
// only reachable through it, so a snapshot set is always swapped atomically.
type TxRepository interface {
	CountPeriods(ctx context.Context, companyID uuid.UUID) (int, error)
	LatestPeriod(ctx context.Context, companyID uuid.UUID) (*Period, error)
	HasOpenPeriod(ctx context.Context, companyID uuid.UUID) (bool, error)
	FirstReferenceDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error)

	LockPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	FindByReferenceDate(ctx context.Context, companyID uuid.UUID, referenceDate time.Time) (*Period, error)
	FindLegacyByQuarter(ctx context.Context, companyID uuid.UUID, anchor time.Time, quarter, year int) (*Period, error)

	InsertPeriod(ctx context.Context, p Period) (Period, error)
	AdoptLegacyPeriod(ctx context.Context, id uuid.UUID, p Period) (Period, error)
	UpdateFreezeState(ctx context.Context, id uuid.UUID, open bool, frozenAt time.Time, actor *uuid.UUID) (Period, error)
	ReplaceSnapshots(ctx context.Context, periodID uuid.UUID, drafts []SnapshotDraft, actor *uuid.UUID, at time.Time) ([]Snapshot, error)
}

// Ensure implementation
var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepository struct {
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	tx pgx.Tx
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// WithTx runs fn in a repeatable-read transaction. Unique violations and
// serialization failures surface as ErrConcurrentFreeze.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("periods: repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
	if db.IsConflict(err) {
		return fmt.Errorf("%w: %w", ErrConcurrentFreeze, err)
	}
	return err
}

const periodColumns = `id, company_id, mentorship_window_id, quarter, year, reference_date, open,
	frozen_at, created_by, updated_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.MentorshipWindowID, &p.Quarter, &p.Year, &p.ReferenceDate, &p.Open,
		&p.FrozenAt, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func optionalPeriod(row pgx.Row) (*Period, error) {
	p, err := scanPeriod(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pgRepository) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM evaluation_periods WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

func (r *pgRepository) ListPeriods(ctx context.Context, companyID uuid.UUID) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM evaluation_periods
		WHERE company_id = $1 ORDER BY reference_date ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgRepository) FindOpenPeriod(ctx context.Context, companyID uuid.UUID) (*Period, error) {
	return optionalPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM evaluation_periods
		WHERE company_id = $1 AND open ORDER BY reference_date DESC LIMIT 1`, companyID))
}

func (r *pgRepository) ListSnapshots(ctx context.Context, periodIDs []uuid.UUID) (map[uuid.UUID][]Snapshot, error) {
	out := make(map[uuid.UUID][]Snapshot, len(periodIDs))
	if len(periodIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.pillar_id, s.period_id, COALESCE(p.name, ''), s.average, s.created_by, s.created_at
		FROM pillar_snapshots s
		LEFT JOIN pillars p ON p.id = s.pillar_id
		WHERE s.period_id = ANY($1)
		ORDER BY s.period_id, p.name`, periodIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.PillarID, &s.PeriodID, &s.PillarName, &s.Average, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		out[s.PeriodID] = append(out[s.PeriodID], s)
	}
	return out, rows.Err()
}

func (r *pgRepository) FirstReferenceDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error) {
	return firstReferenceDate(ctx, r.pool, companyID)
}

func (r *pgRepository) ListAnchoredCompanies(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM evaluation_periods ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func firstReferenceDate(ctx context.Context, q querier, companyID uuid.UUID) (*time.Time, error) {
	var anchor *time.Time
	err := q.QueryRow(ctx, `SELECT MIN(reference_date) FROM evaluation_periods WHERE company_id = $1`, companyID).Scan(&anchor)
	if err != nil {
		return nil, err
	}
	return anchor, nil
}

func (t *pgTxRepository) CountPeriods(ctx context.Context, companyID uuid.UUID) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM evaluation_periods WHERE company_id = $1`, companyID).Scan(&count)
	return count, err
}

func (t *pgTxRepository) LatestPeriod(ctx context.Context, companyID uuid.UUID) (*Period, error) {
	return optionalPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM evaluation_periods
		WHERE company_id = $1 ORDER BY reference_date DESC LIMIT 1`, companyID))
}

func (t *pgTxRepository) HasOpenPeriod(ctx context.Context, companyID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM evaluation_periods WHERE company_id = $1 AND open)`, companyID).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) FirstReferenceDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error) {
	return firstReferenceDate(ctx, t.tx, companyID)
}

func (t *pgTxRepository) LockPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM evaluation_periods WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

func (t *pgTxRepository) FindByReferenceDate(ctx context.Context, companyID uuid.UUID, referenceDate time.Time) (*Period, error) {
	return optionalPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM evaluation_periods
		WHERE company_id = $1 AND reference_date = $2 FOR UPDATE`, companyID, civilDate(referenceDate)))
}

// FindLegacyByQuarter returns the oldest row of (quarter, year) whose reference
// date is off the anchor's 90-day grid. Such rows predate windowing.
func (t *pgTxRepository) FindLegacyByQuarter(ctx context.Context, companyID uuid.UUID, anchor time.Time, quarter, year int) (*Period, error) {
	return optionalPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM evaluation_periods
		WHERE company_id = $1 AND quarter = $2 AND year = $3
			AND (reference_date - $4::date) % $5::int <> 0
		ORDER BY reference_date ASC
		LIMIT 1
		FOR UPDATE`, companyID, quarter, year, civilDate(anchor), PeriodLength))
}

func (t *pgTxRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	return scanPeriod(t.tx.QueryRow(ctx, `INSERT INTO evaluation_periods (
			id, company_id, mentorship_window_id, quarter, year, reference_date, open,
			frozen_at, created_by, updated_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10, $10)
		RETURNING `+periodColumns,
		p.ID, p.CompanyID, p.MentorshipWindowID, p.Quarter, p.Year, civilDate(p.ReferenceDate), p.Open,
		p.FrozenAt, p.CreatedBy, p.CreatedAt,
	))
}

// AdoptLegacyPeriod moves the legacy row id onto the window described by p.
// The row keeps its id and creation audit fields.
func (t *pgTxRepository) AdoptLegacyPeriod(ctx context.Context, id uuid.UUID, p Period) (Period, error) {
	adopted, err := scanPeriod(t.tx.QueryRow(ctx, `UPDATE evaluation_periods
		SET reference_date = $2,
			quarter = $3,
			year = $4,
			mentorship_window_id = COALESCE($5, mentorship_window_id),
			open = $6,
			frozen_at = $7,
			updated_by = $8,
			updated_at = $9
		WHERE id = $1
		RETURNING `+periodColumns,
		id, civilDate(p.ReferenceDate), p.Quarter, p.Year, p.MentorshipWindowID, p.Open,
		p.FrozenAt, p.CreatedBy, p.CreatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return adopted, err
}

func (t *pgTxRepository) UpdateFreezeState(ctx context.Context, id uuid.UUID, open bool, frozenAt time.Time, actor *uuid.UUID) (Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `UPDATE evaluation_periods
		SET open = $2, frozen_at = $3, updated_by = $4, updated_at = $3
		WHERE id = $1
		RETURNING `+periodColumns, id, open, frozenAt, actor))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrPeriodNotFound
	}
	return p, err
}

// ReplaceSnapshots deletes every snapshot of the period and inserts drafts.
func (t *pgTxRepository) ReplaceSnapshots(ctx context.Context, periodID uuid.UUID, drafts []SnapshotDraft, actor *uuid.UUID, at time.Time) ([]Snapshot, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM pillar_snapshots WHERE period_id = $1`, periodID); err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(drafts))
	batch := &pgx.Batch{}
	for _, d := range drafts {
		s := Snapshot{
			ID:         uuid.New(),
			PillarID:   d.PillarID,
			PeriodID:   periodID,
			PillarName: d.PillarName,
			Average:    d.Average,
			CreatedBy:  actor,
			CreatedAt:  at,
		}
		batch.Queue(`INSERT INTO pillar_snapshots (id, pillar_id, period_id, average, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, s.ID, s.PillarID, s.PeriodID, s.Average, s.CreatedBy, s.CreatedAt)
		snaps = append(snaps, s)
	}

	results := t.tx.SendBatch(ctx, batch)
	for range snaps {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return nil, err
		}
	}
	if err := results.Close(); err != nil {
		return nil, err
	}
	return snaps, nil
}
