package periods

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/scorecard/internal/shared"
)

// EvolutionPoint is one pillar average at one period.
type EvolutionPoint struct {
	PeriodID      uuid.UUID `json:"period_id"`
	ReferenceDate time.Time `json:"reference_date"`
	Quarter       int       `json:"quarter"`
	Year          int       `json:"year"`
	Average       float64   `json:"average"`
}

// PillarSeries is the frozen history of one pillar.
type PillarSeries struct {
	PillarID   uuid.UUID        `json:"pillar_id"`
	PillarName string           `json:"pillar_name"`
	Points     []EvolutionPoint `json:"points"`
}

// Evolution returns one series per pillar across every frozen period.
func (s *Service) Evolution(ctx context.Context, actor shared.Actor, companyID uuid.UUID) ([]PillarSeries, error) {
	all, err := s.FindAll(ctx, actor, companyID)
	if err != nil {
		return nil, err
	}
	return BuildEvolution(all), nil
}

// BuildEvolution groups snapshots by pillar, points ordered by reference date.
func BuildEvolution(periods []PeriodWithSnapshots) []PillarSeries {
	index := map[uuid.UUID]int{}
	var out []PillarSeries
	for _, p := range periods {
		for _, snap := range p.Snapshots {
			i, ok := index[snap.PillarID]
			if !ok {
				i = len(out)
				index[snap.PillarID] = i
				out = append(out, PillarSeries{PillarID: snap.PillarID, PillarName: snap.PillarName})
			}
			out[i].Points = append(out[i].Points, EvolutionPoint{
				PeriodID:      p.Period.ID,
				ReferenceDate: p.Period.ReferenceDate,
				Quarter:       p.Period.Quarter,
				Year:          p.Period.Year,
				Average:       snap.Average,
			})
		}
	}
	for i := range out {
		sort.SliceStable(out[i].Points, func(a, b int) bool {
			return out[i].Points[a].ReferenceDate.Before(out[i].Points[b].ReferenceDate)
		})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].PillarName < out[b].PillarName })
	return out
}

// WriteEvolutionCSV emits the series as semicolon separated CSV with
// Brazilian decimal formatting.
func WriteEvolutionCSV(w io.Writer, series []PillarSeries) error {
	printer := message.NewPrinter(language.BrazilianPortuguese)
	writer := csv.NewWriter(w)
	writer.Comma = ';'
	defer writer.Flush()

	if err := writer.Write([]string{"Pilar", "Data de referencia", "Trimestre", "Media"}); err != nil {
		return err
	}
	for _, s := range series {
		for _, point := range s.Points {
			if err := writer.Write([]string{
				s.PillarName,
				point.ReferenceDate.Format(dateLayout),
				fmt.Sprintf("T%d/%d", point.Quarter, point.Year),
				printer.Sprintf("%.2f", point.Average),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
