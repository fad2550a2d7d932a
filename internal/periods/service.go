package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/scorecard/internal/shared"
)

// MentorshipProvider resolves the active mentorship window of a company.
type MentorshipProvider interface {
	ActiveWindow(ctx context.Context, companyID uuid.UUID) (*MentorshipWindow, error)
}

// PillarReader loads active pillars with the latest note of each active routine.
type PillarReader interface {
	ActivePillarsWithLatestNotes(ctx context.Context, companyID uuid.UUID) ([]PillarNotes, error)
}

// AuditSink persists one audit record per committed use-case.
type AuditSink interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// FreezeObserver receives the outcome of each write use-case.
type FreezeObserver interface {
	ObserveFreeze(operation, outcome string, elapsed time.Duration)
}

// ServiceConfig carries optional collaborators.
type ServiceConfig struct {
	Logger   *slog.Logger
	Cache    *Cache
	Metrics  FreezeObserver
	Location *time.Location
}

// Service orchestrates evaluation period use-cases.
type Service struct {
	repo        Repository
	mentorships MentorshipProvider
	pillars     PillarReader
	audit       AuditSink
	cache       *Cache
	metrics     FreezeObserver
	logger      *slog.Logger
	loc         *time.Location
}

const (
	opCreate      = "create"
	opCreateFirst = "create_first"
	opFreeze      = "freeze"
	opRefreeze    = "refreeze"
	opAutoFreeze  = "auto_freeze"

	auditEntity = "evaluation_period"
)

// NewService wires the evaluation period service.
func NewService(repo Repository, mentorships MentorshipProvider, pillars PillarReader, audit AuditSink, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:        repo,
		mentorships: mentorships,
		pillars:     pillars,
		audit:       audit,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger.With(slog.String("component", "periods")),
		loc:         loc,
	}
}

// Create opens an empty period at the requested reference date.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput, now time.Time) (result PeriodWithSnapshots, err error) {
	defer s.observe(opCreate, time.Now(), &err)
	if err := in.Validate(); err != nil {
		return PeriodWithSnapshots{}, err
	}
	if err := shared.AssertTenantAccess(in.CompanyID, actor); err != nil {
		return PeriodWithSnapshots{}, err
	}
	ref := civilDate(in.ReferenceDate)
	mw, err := s.mentorshipFor(ctx, in.CompanyID, ref)
	if err != nil {
		return PeriodWithSnapshots{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.HasOpenPeriod(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		if open {
			return ErrOpenPeriodExists
		}
		latest, err := tx.LatestPeriod(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		if latest != nil && DaysBetween(latest.ReferenceDate, ref) < PeriodLength {
			return ErrPeriodSpacing
		}
		quarter, year := QuarterOf(ref)
		p, err := tx.InsertPeriod(ctx, Period{
			ID:                 uuid.New(),
			CompanyID:          in.CompanyID,
			MentorshipWindowID: &mw.ID,
			Quarter:            quarter,
			Year:               year,
			ReferenceDate:      ref,
			Open:               true,
			CreatedBy:          actor.Ref(),
			CreatedAt:          now,
		})
		if err != nil {
			return err
		}
		result = PeriodWithSnapshots{Period: p, Snapshots: []Snapshot{}}
		return nil
	})
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	s.afterCommit(ctx, opCreate, actor, nil, result)
	return result, nil
}

// CreateFirst records the company's anchor and freezes its first period.
func (s *Service) CreateFirst(ctx context.Context, actor shared.Actor, in CreateInput, now time.Time) (result PeriodWithSnapshots, err error) {
	defer s.observe(opCreateFirst, time.Now(), &err)
	if err := in.Validate(); err != nil {
		return PeriodWithSnapshots{}, err
	}
	if err := shared.AssertTenantAccess(in.CompanyID, actor); err != nil {
		return PeriodWithSnapshots{}, err
	}
	ref := civilDate(in.ReferenceDate)
	mw, err := s.mentorshipFor(ctx, in.CompanyID, ref)
	if err != nil {
		return PeriodWithSnapshots{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		count, err := tx.CountPeriods(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAnchorAlreadySet
		}
		drafts, err := s.drafts(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		quarter, year := QuarterOf(ref)
		frozenAt := now
		p, err := tx.InsertPeriod(ctx, Period{
			ID:                 uuid.New(),
			CompanyID:          in.CompanyID,
			MentorshipWindowID: &mw.ID,
			Quarter:            quarter,
			Year:               year,
			ReferenceDate:      ref,
			Open:               true,
			FrozenAt:           &frozenAt,
			CreatedBy:          actor.Ref(),
			CreatedAt:          now,
		})
		if err != nil {
			return err
		}
		snaps, err := tx.ReplaceSnapshots(ctx, p.ID, drafts, actor.Ref(), now)
		if err != nil {
			return err
		}
		result = PeriodWithSnapshots{Period: p, Snapshots: snaps}
		return nil
	})
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	s.afterCommit(ctx, opCreateFirst, actor, nil, result)
	return result, nil
}

// Freeze snapshots an open period and closes it.
func (s *Service) Freeze(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (result PeriodWithSnapshots, err error) {
	defer s.observe(opFreeze, time.Now(), &err)
	if err := shared.AssertTenantAccess(companyID, actor); err != nil {
		return PeriodWithSnapshots{}, err
	}
	var before Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := lockCompanyPeriod(ctx, tx, companyID, periodID)
		if err != nil {
			return err
		}
		if !p.Open {
			return ErrPeriodNotOpen
		}
		before = p
		result, err = s.writeFreeze(ctx, tx, actor, p, now)
		return err
	})
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	s.afterCommit(ctx, opFreeze, actor, &before, result)
	return result, nil
}

// Refreeze recomputes the snapshots of a closed period, which stays closed.
func (s *Service) Refreeze(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (result PeriodWithSnapshots, err error) {
	defer s.observe(opRefreeze, time.Now(), &err)
	if !actor.HasRole(shared.RoleAdmin, shared.RoleConsultant, shared.RoleManager) {
		return PeriodWithSnapshots{}, ErrRefreezeRole
	}
	if err := shared.AssertTenantAccess(companyID, actor); err != nil {
		return PeriodWithSnapshots{}, err
	}
	var before Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := lockCompanyPeriod(ctx, tx, companyID, periodID)
		if err != nil {
			return err
		}
		if p.Open {
			return ErrPeriodNotClosed
		}
		before = p
		result, err = s.writeFreeze(ctx, tx, actor, p, now)
		return err
	})
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	s.afterCommit(ctx, opRefreeze, actor, &before, result)
	return result, nil
}

// AutoFreeze freezes the period of the window containing now, creating it or
// adopting a legacy quarter row when needed. The period is left open.
func (s *Service) AutoFreeze(ctx context.Context, actor shared.Actor, in AutoFreezeInput, now time.Time) (result PeriodWithSnapshots, err error) {
	defer s.observe(opAutoFreeze, time.Now(), &err)
	if err := in.Validate(); err != nil {
		return PeriodWithSnapshots{}, err
	}
	if err := shared.AssertTenantAccess(in.CompanyID, actor); err != nil {
		return PeriodWithSnapshots{}, err
	}
	today := s.today(now)
	mw, err := s.mentorships.ActiveWindow(ctx, in.CompanyID)
	if err != nil {
		return PeriodWithSnapshots{}, err
	}

	var before *Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		anchor, err := tx.FirstReferenceDate(ctx, in.CompanyID)
		if err != nil {
			return err
		}
		if anchor == nil {
			return ErrNoAnchor
		}
		w, err := targetWindow(*anchor, in.ReferenceDate, today)
		if err != nil {
			return err
		}
		drafts, err := s.drafts(ctx, in.CompanyID)
		if err != nil {
			return err
		}

		existing, err := tx.FindByReferenceDate(ctx, in.CompanyID, w.ReferenceDate)
		if err != nil {
			return err
		}
		if existing == nil {
			// Rows on the anchor's grid belong to their own window even when
			// they share this quarter; only off-grid rows predate windowing.
			legacy, err := tx.FindLegacyByQuarter(ctx, in.CompanyID, *anchor, w.Quarter, w.Year)
			if err != nil {
				return err
			}
			before = legacy
			frozenAt := now
			p := Period{
				ID:            uuid.New(),
				CompanyID:     in.CompanyID,
				Quarter:       w.Quarter,
				Year:          w.Year,
				ReferenceDate: w.ReferenceDate,
				Open:          true,
				FrozenAt:      &frozenAt,
				CreatedBy:     actor.Ref(),
				CreatedAt:     now,
			}
			if mw != nil && mw.Contains(w.ReferenceDate) {
				p.MentorshipWindowID = &mw.ID
			}
			if legacy != nil {
				p, err = tx.AdoptLegacyPeriod(ctx, legacy.ID, p)
			} else {
				p, err = tx.InsertPeriod(ctx, p)
			}
			if err != nil {
				return err
			}
			snaps, err := tx.ReplaceSnapshots(ctx, p.ID, drafts, actor.Ref(), now)
			if err != nil {
				return err
			}
			result = PeriodWithSnapshots{Period: p, Snapshots: snaps}
			return nil
		}

		before = existing
		p, err := tx.UpdateFreezeState(ctx, existing.ID, true, now, actor.Ref())
		if err != nil {
			return err
		}
		snaps, err := tx.ReplaceSnapshots(ctx, p.ID, drafts, actor.Ref(), now)
		if err != nil {
			return err
		}
		result = PeriodWithSnapshots{Period: p, Snapshots: snaps}
		return nil
	})
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	s.afterCommit(ctx, opAutoFreeze, actor, before, result)
	return result, nil
}

// targetWindow picks the window to freeze and rejects instants outside it.
func targetWindow(anchor time.Time, requested *time.Time, today time.Time) (Window, error) {
	if requested == nil {
		if today.Before(civilDate(anchor)) {
			first, _ := ActiveWindow(anchor, anchor)
			return Window{}, &WindowClosedError{Window: first, NextOpensAt: first.Start}
		}
		return ActiveWindow(anchor, today)
	}
	w, err := ActiveWindow(anchor, *requested)
	if err != nil {
		return Window{}, err
	}
	if w.Contains(today) {
		return w, nil
	}
	next := w.Start
	if today.After(w.End) {
		next = NextWindowStart(anchor, w)
	}
	return Window{}, &WindowClosedError{Window: w, NextOpensAt: next}
}

// FindCurrent returns the open period of the company with its snapshots.
func (s *Service) FindCurrent(ctx context.Context, actor shared.Actor, companyID uuid.UUID) (PeriodWithSnapshots, error) {
	if err := shared.AssertTenantAccess(companyID, actor); err != nil {
		return PeriodWithSnapshots{}, err
	}
	var out PeriodWithSnapshots
	err := s.cache.FetchJSON(ctx, companyID, "current", &out, func(ctx context.Context) (any, error) {
		p, err := s.repo.FindOpenPeriod(ctx, companyID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrPeriodNotFound
		}
		snaps, err := s.repo.ListSnapshots(ctx, []uuid.UUID{p.ID})
		if err != nil {
			return nil, err
		}
		return PeriodWithSnapshots{Period: *p, Snapshots: nonNil(snaps[p.ID])}, nil
	})
	return out, err
}

// FindAll lists every period of the company in reference date order.
func (s *Service) FindAll(ctx context.Context, actor shared.Actor, companyID uuid.UUID) ([]PeriodWithSnapshots, error) {
	if err := shared.AssertTenantAccess(companyID, actor); err != nil {
		return nil, err
	}
	out := []PeriodWithSnapshots{}
	err := s.cache.FetchJSON(ctx, companyID, "list", &out, func(ctx context.Context) (any, error) {
		return s.loadAll(ctx, companyID)
	})
	return out, err
}

func (s *Service) loadAll(ctx context.Context, companyID uuid.UUID) ([]PeriodWithSnapshots, error) {
	periods, err := s.repo.ListPeriods(ctx, companyID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(periods))
	for _, p := range periods {
		ids = append(ids, p.ID)
	}
	snaps, err := s.repo.ListSnapshots(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]PeriodWithSnapshots, 0, len(periods))
	for _, p := range periods {
		out = append(out, PeriodWithSnapshots{Period: p, Snapshots: nonNil(snaps[p.ID])})
	}
	return out, nil
}

// FirstReferenceDate returns the company's anchor, nil when none was recorded.
func (s *Service) FirstReferenceDate(ctx context.Context, actor shared.Actor, companyID uuid.UUID) (*time.Time, error) {
	if err := shared.AssertTenantAccess(companyID, actor); err != nil {
		return nil, err
	}
	return s.repo.FirstReferenceDate(ctx, companyID)
}

// WindowStatus reports the company's current window and when the next opens.
func (s *Service) WindowStatus(ctx context.Context, actor shared.Actor, companyID uuid.UUID, now time.Time) (WindowStatus, error) {
	if err := shared.AssertTenantAccess(companyID, actor); err != nil {
		return WindowStatus{}, err
	}
	anchor, err := s.repo.FirstReferenceDate(ctx, companyID)
	if err != nil {
		return WindowStatus{}, err
	}
	if anchor == nil {
		return WindowStatus{}, ErrNoAnchor
	}
	return StatusAt(*anchor, s.today(now)), nil
}

// StatusAt computes the window status of anchor on the civil date today.
func StatusAt(anchor, today time.Time) WindowStatus {
	a := civilDate(anchor)
	status := WindowStatus{Anchor: a}
	w, err := ActiveWindow(a, today)
	if err != nil {
		status.NextOpensAt = a
		return status
	}
	status.Current = &w
	status.DaysRemaining = DaysBetween(today, w.End) + 1
	status.NextOpensAt = NextWindowStart(a, w)
	return status
}

// AnchoredCompanies lists companies that already have a first reference date.
func (s *Service) AnchoredCompanies(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListAnchoredCompanies(ctx)
}

func (s *Service) today(now time.Time) time.Time {
	return civilDate(now.In(s.loc))
}

func (s *Service) mentorshipFor(ctx context.Context, companyID uuid.UUID, ref time.Time) (*MentorshipWindow, error) {
	mw, err := s.mentorships.ActiveWindow(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if mw == nil {
		return nil, ErrNoMentorshipWindow
	}
	if !mw.Contains(ref) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrOutsideMentorship, ref.Format(dateLayout),
			mw.StartDate.Format(dateLayout), mw.EndDate.Format(dateLayout))
	}
	return mw, nil
}

func (s *Service) drafts(ctx context.Context, companyID uuid.UUID) ([]SnapshotDraft, error) {
	pillars, err := s.pillars.ActivePillarsWithLatestNotes(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return BuildSnapshots(pillars)
}

// writeFreeze recomputes snapshots of p and leaves it closed.
func (s *Service) writeFreeze(ctx context.Context, tx TxRepository, actor shared.Actor, p Period, now time.Time) (PeriodWithSnapshots, error) {
	drafts, err := s.drafts(ctx, p.CompanyID)
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	p, err = tx.UpdateFreezeState(ctx, p.ID, false, now, actor.Ref())
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	snaps, err := tx.ReplaceSnapshots(ctx, p.ID, drafts, actor.Ref(), now)
	if err != nil {
		return PeriodWithSnapshots{}, err
	}
	return PeriodWithSnapshots{Period: p, Snapshots: snaps}, nil
}

func lockCompanyPeriod(ctx context.Context, tx TxRepository, companyID, periodID uuid.UUID) (Period, error) {
	p, err := tx.LockPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if p.CompanyID != companyID {
		return Period{}, ErrPeriodNotFound
	}
	return p, nil
}

func (s *Service) afterCommit(ctx context.Context, op string, actor shared.Actor, before *Period, after PeriodWithSnapshots) {
	averages := make(map[string]float64, len(after.Snapshots))
	for _, snap := range after.Snapshots {
		averages[snap.PillarID.String()] = snap.Average
	}
	entry := shared.AuditLog{
		ActorID:  actor.ID,
		Action:   auditEntity + "." + op,
		Entity:   auditEntity,
		EntityID: after.Period.ID.String(),
		After:    after.Period,
		Meta: map[string]any{
			"run_id":         uuid.NewString(),
			"company_id":     after.Period.CompanyID.String(),
			"reference_date": after.Period.ReferenceDate.Format(dateLayout),
			"averages":       averages,
		},
	}
	if before != nil {
		entry.Before = *before
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit record failed",
				slog.String("operation", op),
				slog.String("period_id", after.Period.ID.String()),
				slog.Any("error", err))
		}
	}
	if err := s.cache.Bump(ctx, after.Period.CompanyID); err != nil {
		s.logger.Warn("cache bump failed", slog.String("company_id", after.Period.CompanyID.String()), slog.Any("error", err))
	}
	s.logger.Info("evaluation period written",
		slog.String("operation", op),
		slog.String("company_id", after.Period.CompanyID.String()),
		slog.String("period_id", after.Period.ID.String()),
		slog.Bool("open", after.Period.Open),
		slog.Int("snapshots", len(after.Snapshots)))
}

func (s *Service) observe(op string, started time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveFreeze(op, Outcome(*errp), time.Since(started))
}

// Outcome classifies a use-case error for metrics and job logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrPreconditionFailed):
		return "precondition"
	case errors.Is(err, shared.ErrAccessDenied), errors.Is(err, shared.ErrRoleNotAuthorized):
		return "denied"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func nonNil(snaps []Snapshot) []Snapshot {
	if snaps == nil {
		return []Snapshot{}
	}
	return snaps
}
