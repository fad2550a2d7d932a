package periods

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errUniqueViolation = errors.New("duplicate key value violates unique constraint")

type memoryState struct {
	periods   map[uuid.UUID]Period
	snapshots map[uuid.UUID][]Snapshot
}

func (s memoryState) clone() memoryState {
	out := memoryState{periods: map[uuid.UUID]Period{}, snapshots: map[uuid.UUID][]Snapshot{}}
	for id, p := range s.periods {
		out.periods[id] = p
	}
	for id, snaps := range s.snapshots {
		out.snapshots[id] = append([]Snapshot(nil), snaps...)
	}
	return out
}

type memoryRepo struct {
	mu            sync.Mutex
	state         memoryState
	failSnapshots error
	commits       int
	// beforeInsert runs once inside the next InsertPeriod, standing in for a
	// concurrent writer that commits first.
	beforeInsert func(committed *memoryState)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{periods: map[uuid.UUID]Period{}, snapshots: map[uuid.UUID][]Snapshot{}}}
}

func (r *memoryRepo) seed(p Period) Period {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.ReferenceDate = civilDate(p.ReferenceDate)
	p.Quarter, p.Year = QuarterOf(p.ReferenceDate)
	r.state.periods[p.ID] = p
	return p
}

func (r *memoryRepo) period(id uuid.UUID) Period {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.periods[id]
}

func (r *memoryRepo) snapshotsOf(id uuid.UUID) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.state.snapshots[id]...)
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.periods)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{repo: r, state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		if errors.Is(err, errUniqueViolation) {
			return fmt.Errorf("%w: %w", ErrConcurrentFreeze, err)
		}
		return err
	}
	r.state = tx.state
	r.commits++
	return nil
}

func (r *memoryRepo) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListPeriods(ctx context.Context, companyID uuid.UUID) ([]Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedPeriods(r.state, companyID), nil
}

func (r *memoryRepo) FindOpenPeriod(ctx context.Context, companyID uuid.UUID) (*Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := sortedPeriods(r.state, companyID)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Open {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) ListSnapshots(ctx context.Context, periodIDs []uuid.UUID) (map[uuid.UUID][]Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uuid.UUID][]Snapshot{}
	for _, id := range periodIDs {
		if snaps := r.state.snapshots[id]; len(snaps) > 0 {
			out[id] = append([]Snapshot(nil), snaps...)
		}
	}
	return out, nil
}

func (r *memoryRepo) FirstReferenceDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return firstOf(r.state, companyID), nil
}

func (r *memoryRepo) ListAnchoredCompanies(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, p := range r.state.periods {
		if !seen[p.CompanyID] {
			seen[p.CompanyID] = true
			out = append(out, p.CompanyID)
		}
	}
	return out, nil
}

func sortedPeriods(state memoryState, companyID uuid.UUID) []Period {
	var out []Period
	for _, p := range state.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceDate.Before(out[j].ReferenceDate) })
	return out
}

func firstOf(state memoryState, companyID uuid.UUID) *time.Time {
	list := sortedPeriods(state, companyID)
	if len(list) == 0 {
		return nil
	}
	ref := list[0].ReferenceDate
	return &ref
}

type memoryTx struct {
	repo  *memoryRepo
	state memoryState
}

func (t *memoryTx) CountPeriods(ctx context.Context, companyID uuid.UUID) (int, error) {
	return len(sortedPeriods(t.state, companyID)), nil
}

func (t *memoryTx) LatestPeriod(ctx context.Context, companyID uuid.UUID) (*Period, error) {
	list := sortedPeriods(t.state, companyID)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[len(list)-1], nil
}

func (t *memoryTx) HasOpenPeriod(ctx context.Context, companyID uuid.UUID) (bool, error) {
	for _, p := range sortedPeriods(t.state, companyID) {
		if p.Open {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) FirstReferenceDate(ctx context.Context, companyID uuid.UUID) (*time.Time, error) {
	return firstOf(t.state, companyID), nil
}

func (t *memoryTx) LockPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	p, ok := t.state.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (t *memoryTx) FindByReferenceDate(ctx context.Context, companyID uuid.UUID, referenceDate time.Time) (*Period, error) {
	ref := civilDate(referenceDate)
	for _, p := range t.state.periods {
		if p.CompanyID == companyID && p.ReferenceDate.Equal(ref) {
			return &p, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) FindLegacyByQuarter(ctx context.Context, companyID uuid.UUID, anchor time.Time, quarter, year int) (*Period, error) {
	for _, p := range sortedPeriods(t.state, companyID) {
		if p.Quarter == quarter && p.Year == year && !OnGrid(anchor, p.ReferenceDate) {
			return &p, nil
		}
	}
	return nil, nil
}

// violates mirrors UNIQUE(company_id, reference_date), which also sees rows
// committed by other transactions.
func (t *memoryTx) violates(p Period, ignore uuid.UUID) bool {
	for _, state := range []memoryState{t.state, t.repo.state} {
		for id, other := range state.periods {
			if id == ignore || other.CompanyID != p.CompanyID {
				continue
			}
			if other.ReferenceDate.Equal(p.ReferenceDate) {
				return true
			}
		}
	}
	return false
}

func (t *memoryTx) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	if hook := t.repo.beforeInsert; hook != nil {
		t.repo.beforeInsert = nil
		hook(&t.repo.state)
	}
	p.ReferenceDate = civilDate(p.ReferenceDate)
	if t.violates(p, uuid.Nil) {
		return Period{}, errUniqueViolation
	}
	p.UpdatedBy = p.CreatedBy
	p.UpdatedAt = p.CreatedAt
	t.state.periods[p.ID] = p
	return p, nil
}

func (t *memoryTx) AdoptLegacyPeriod(ctx context.Context, id uuid.UUID, p Period) (Period, error) {
	existing, ok := t.state.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	updated := existing
	updated.ReferenceDate = civilDate(p.ReferenceDate)
	updated.Quarter, updated.Year = p.Quarter, p.Year
	if p.MentorshipWindowID != nil {
		updated.MentorshipWindowID = p.MentorshipWindowID
	}
	updated.Open = p.Open
	updated.FrozenAt = p.FrozenAt
	updated.UpdatedBy = p.CreatedBy
	updated.UpdatedAt = p.CreatedAt
	if t.violates(updated, updated.ID) {
		return Period{}, errUniqueViolation
	}
	t.state.periods[updated.ID] = updated
	return updated, nil
}

func (t *memoryTx) UpdateFreezeState(ctx context.Context, id uuid.UUID, open bool, frozenAt time.Time, actor *uuid.UUID) (Period, error) {
	p, ok := t.state.periods[id]
	if !ok {
		return Period{}, ErrPeriodNotFound
	}
	p.Open = open
	p.FrozenAt = &frozenAt
	p.UpdatedBy = actor
	p.UpdatedAt = frozenAt
	t.state.periods[id] = p
	return p, nil
}

func (t *memoryTx) ReplaceSnapshots(ctx context.Context, periodID uuid.UUID, drafts []SnapshotDraft, actor *uuid.UUID, at time.Time) ([]Snapshot, error) {
	delete(t.state.snapshots, periodID)
	if t.repo.failSnapshots != nil {
		return nil, t.repo.failSnapshots
	}
	snaps := make([]Snapshot, 0, len(drafts))
	for _, d := range drafts {
		snaps = append(snaps, Snapshot{
			ID:         uuid.New(),
			PillarID:   d.PillarID,
			PeriodID:   periodID,
			PillarName: d.PillarName,
			Average:    d.Average,
			CreatedBy:  actor,
			CreatedAt:  at,
		})
	}
	t.state.snapshots[periodID] = snaps
	return append([]Snapshot(nil), snaps...), nil
}
