package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/scorecard/internal/shared"
)

// Period is one evaluation period (periodo de avaliacao) of a company. The
// canonical key is (CompanyID, ReferenceDate); (Quarter, Year) is derived from
// ReferenceDate on every write and kept for rows that predate rolling windows.
type Period struct {
	ID                 uuid.UUID  `json:"id"`
	CompanyID          uuid.UUID  `json:"company_id"`
	MentorshipWindowID *uuid.UUID `json:"mentorship_window_id,omitempty"`
	Quarter            int        `json:"quarter"`
	Year               int        `json:"year"`
	ReferenceDate      time.Time  `json:"reference_date"`
	Open               bool       `json:"open"`
	FrozenAt           *time.Time `json:"frozen_at,omitempty"`
	CreatedBy          *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy          *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Snapshot is the frozen average of one pillar inside a period. Rows are
// replaced wholesale on every freeze, so only (PillarID, PeriodID) is stable.
type Snapshot struct {
	ID         uuid.UUID  `json:"id"`
	PillarID   uuid.UUID  `json:"pillar_id"`
	PeriodID   uuid.UUID  `json:"period_id"`
	PillarName string     `json:"pillar_name,omitempty"`
	Average    float64    `json:"average"`
	CreatedBy  *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PeriodWithSnapshots is the shape returned by every use-case.
type PeriodWithSnapshots struct {
	Period    Period     `json:"period"`
	Snapshots []Snapshot `json:"snapshots"`
}

// MentorshipWindow bounds valid reference dates for a company.
type MentorshipWindow struct {
	ID        uuid.UUID `json:"id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Contains reports whether the civil date of d falls inside the window, both ends included.
func (w MentorshipWindow) Contains(d time.Time) bool {
	day := civilDate(d)
	return !day.Before(civilDate(w.StartDate)) && !day.After(civilDate(w.EndDate))
}

// RoutineNote carries the most recent note of an active routine; nil when unscored.
type RoutineNote struct {
	RoutineID  uuid.UUID
	LatestNote *float64
}

// PillarNotes is an active pillar with its active routines.
type PillarNotes struct {
	PillarID uuid.UUID
	Name     string
	Routines []RoutineNote
}

// CreateInput carries the reference date for manual and first-period creation.
type CreateInput struct {
	CompanyID     uuid.UUID
	ReferenceDate time.Time
}

// Validate ensures the create input is coherent.
func (in CreateInput) Validate() error {
	if in.CompanyID == uuid.Nil {
		return errors.New("periods: company id required")
	}
	if in.ReferenceDate.IsZero() {
		return errors.New("periods: reference date required")
	}
	return nil
}

// AutoFreezeInput targets the window containing ReferenceDate, or the window
// containing now when ReferenceDate is nil.
type AutoFreezeInput struct {
	CompanyID     uuid.UUID
	ReferenceDate *time.Time
}

// Validate ensures the auto freeze input is coherent.
func (in AutoFreezeInput) Validate() error {
	if in.CompanyID == uuid.Nil {
		return errors.New("periods: company id required")
	}
	return nil
}

// WindowStatus describes where a company stands on its rolling calendar.
type WindowStatus struct {
	Anchor        time.Time `json:"anchor"`
	Current       *Window   `json:"current,omitempty"`
	DaysRemaining int       `json:"days_remaining"`
	NextOpensAt   time.Time `json:"next_opens_at"`
}

var (
	ErrPeriodNotFound = fmt.Errorf("%w: evaluation period", shared.ErrNotFound)

	ErrNoMentorshipWindow = fmt.Errorf("%w: no active mentorship window", shared.ErrPreconditionFailed)
	ErrOutsideMentorship  = fmt.Errorf("%w: reference date outside the mentorship window", shared.ErrPreconditionFailed)
	ErrOpenPeriodExists   = fmt.Errorf("%w: an open evaluation period already exists", shared.ErrPreconditionFailed)
	ErrPeriodSpacing      = fmt.Errorf("%w: reference date must be at least %d days after the latest period", shared.ErrPreconditionFailed, PeriodLength)
	ErrOutsideWindow      = fmt.Errorf("%w: instant is outside the evaluation window", shared.ErrPreconditionFailed)
	ErrNoAnchor           = fmt.Errorf("%w: no first reference date recorded", shared.ErrPreconditionFailed)
	ErrAnchorAlreadySet   = fmt.Errorf("%w: first reference date already recorded", shared.ErrPreconditionFailed)
	ErrBeforeAnchor       = fmt.Errorf("%w: date precedes the first reference date", shared.ErrPreconditionFailed)
	ErrNoScoredPillars    = fmt.Errorf("%w: no pillar has a scored routine", shared.ErrPreconditionFailed)
	ErrPeriodNotOpen      = fmt.Errorf("%w: evaluation period is not open", shared.ErrPreconditionFailed)
	ErrPeriodNotClosed    = fmt.Errorf("%w: evaluation period is not closed", shared.ErrPreconditionFailed)

	ErrRefreezeRole = fmt.Errorf("%w: refreeze requires ADMINISTRADOR, CONSULTOR or GESTOR", shared.ErrRoleNotAuthorized)

	ErrConcurrentFreeze = fmt.Errorf("%w: evaluation period changed concurrently, retry", shared.ErrConflict)
)

// WindowClosedError reports that an automatic freeze was attempted outside
// the targeted window, and when the next window opens.
type WindowClosedError struct {
	Window      Window
	NextOpensAt time.Time
}

func (e *WindowClosedError) Error() string {
	return fmt.Sprintf("%s: window %d [%s, %s] is not current, next window opens %s",
		ErrOutsideWindow.Error(), e.Window.Number,
		e.Window.Start.Format(dateLayout), e.Window.End.Format(dateLayout),
		e.NextOpensAt.Format(dateLayout))
}

func (e *WindowClosedError) Unwrap() error {
	return ErrOutsideWindow
}
