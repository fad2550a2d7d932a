package periods

import (
	"math"
	"time"
)

// PeriodLength is the span of one evaluation window in days.
const PeriodLength = 90

const dateLayout = "2006-01-02"

// Window is the active period descriptor for an instant: the closed range
// [Start, End] of PeriodLength days beginning at ReferenceDate.
type Window struct {
	Number        int       `json:"number"`
	ReferenceDate time.Time `json:"reference_date"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Quarter       int       `json:"quarter"`
	Year          int       `json:"year"`
}

// Contains reports whether the civil date of t is inside the window.
func (w Window) Contains(t time.Time) bool {
	day := civilDate(t)
	return !day.Before(w.Start) && !day.After(w.End)
}

// ActiveWindow maps an anchor and an instant to the window containing the
// instant. Both are reduced to civil dates in their own location first.
func ActiveWindow(anchor, now time.Time) (Window, error) {
	a := civilDate(anchor)
	n := civilDate(now)
	if n.Before(a) {
		return Window{}, ErrBeforeAnchor
	}
	number := DaysBetween(a, n)/PeriodLength + 1
	ref := a.AddDate(0, 0, PeriodLength*(number-1))
	quarter, year := QuarterOf(ref)
	return Window{
		Number:        number,
		ReferenceDate: ref,
		Start:         ref,
		End:           ref.AddDate(0, 0, PeriodLength-1),
		Quarter:       quarter,
		Year:          year,
	}, nil
}

// NextWindowStart returns when the window after w opens.
func NextWindowStart(anchor time.Time, w Window) time.Time {
	next, err := ActiveWindow(anchor, w.End.AddDate(0, 0, 1))
	if err != nil {
		return w.End.AddDate(0, 0, 1)
	}
	return next.Start
}

// QuarterOf derives the calendar quarter and year containing d.
func QuarterOf(d time.Time) (quarter, year int) {
	return (int(d.Month())-1)/3 + 1, d.Year()
}

// DaysBetween counts whole civil days from one date to another; negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	return int(math.Round(civilDate(to).Sub(civilDate(from)).Hours() / 24))
}

// OnGrid reports whether date is the reference date of some window of anchor.
func OnGrid(anchor, date time.Time) bool {
	d := DaysBetween(anchor, date)
	return d >= 0 && d%PeriodLength == 0
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
