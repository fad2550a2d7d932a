package scorecard

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/scorecard/internal/periods"
)

// Repository reads pillars, routines and notes for snapshotting.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres backed pillar reader.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NoteRow is one (pillar, routine) pair with the routine's latest note.
type NoteRow struct {
	PillarID   uuid.UUID
	PillarName string
	RoutineID  *uuid.UUID
	Note       *float64
}

// ActivePillarsWithLatestNotes returns active pillars of the company, each with
// its active routines and their most recent note.
func (r *Repository) ActivePillarsWithLatestNotes(ctx context.Context, companyID uuid.UUID) ([]periods.PillarNotes, error) {
	const query = `SELECT p.id, p.name, rt.id, n.note
		FROM pillars p
		LEFT JOIN routines rt ON rt.pillar_id = p.id AND rt.active
		LEFT JOIN LATERAL (
			SELECT note FROM routine_notes
			WHERE routine_id = rt.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) n ON TRUE
		WHERE p.company_id = $1 AND p.active
		ORDER BY p.name, p.id, rt.id`
	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		var row NoteRow
		if err := rows.Scan(&row.PillarID, &row.PillarName, &row.RoutineID, &row.Note); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return GroupRows(out), nil
}

// GroupRows folds joined rows into pillars, keeping row order. A pillar
// without routines comes back with an empty routine list.
func GroupRows(rows []NoteRow) []periods.PillarNotes {
	index := map[uuid.UUID]int{}
	var out []periods.PillarNotes
	for _, row := range rows {
		i, ok := index[row.PillarID]
		if !ok {
			i = len(out)
			index[row.PillarID] = i
			out = append(out, periods.PillarNotes{PillarID: row.PillarID, Name: row.PillarName})
		}
		if row.RoutineID == nil {
			continue
		}
		out[i].Routines = append(out[i].Routines, periods.RoutineNote{RoutineID: *row.RoutineID, LatestNote: row.Note})
	}
	return out
}
