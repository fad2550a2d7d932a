package periods

import "github.com/google/uuid"

// SnapshotDraft is a computed pillar average waiting to be written.
type SnapshotDraft struct {
	PillarID   uuid.UUID
	PillarName string
	Average    float64
}

// PillarAverage averages the latest notes of the pillar's scored routines.
// ok is false when no routine has a note.
func PillarAverage(p PillarNotes) (avg float64, ok bool) {
	var sum float64
	var scored int
	for _, r := range p.Routines {
		if r.LatestNote == nil {
			continue
		}
		sum += *r.LatestNote
		scored++
	}
	if scored == 0 {
		return 0, false
	}
	return sum / float64(scored), true
}

// BuildSnapshots computes one draft per scored pillar. Unscored pillars are
// skipped, never written as zero.
func BuildSnapshots(pillars []PillarNotes) ([]SnapshotDraft, error) {
	drafts := make([]SnapshotDraft, 0, len(pillars))
	for _, p := range pillars {
		avg, ok := PillarAverage(p)
		if !ok {
			continue
		}
		drafts = append(drafts, SnapshotDraft{PillarID: p.PillarID, PillarName: p.Name, Average: avg})
	}
	if len(drafts) == 0 {
		return nil, ErrNoScoredPillars
	}
	return drafts, nil
}
