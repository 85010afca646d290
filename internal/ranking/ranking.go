// Package ranking turns per-entry point totals into competition standings.
package ranking

import (
	"sort"

	"github.com/bananalabs-oss/pms/internal/models"
)

// Scored is an entry with the sum of every vote cast for it. Entries nobody
// voted for carry a total of zero.
type Scored struct {
	Entry       models.Entry
	TotalPoints int
}

type Placement struct {
	Rank        int          `json:"rank"`
	TotalPoints int          `json:"total_points"`
	Entry       models.Entry `json:"entry"`
}

// Rank orders entries by total points, highest first, keeping the input
// order between equal totals. Tied entries share a rank and the next lower
// total is placed at its 1-based index, so [10 10 7 7 7 2] ranks [1 1 3 3 3 6].
// The input slice is not modified.
func Rank(scored []Scored) []Placement {
	sorted := make([]Scored, len(scored))
	copy(sorted, scored)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TotalPoints > sorted[j].TotalPoints
	})

	placements := make([]Placement, len(sorted))
	rank := 1
	for i, s := range sorted {
		if i > 0 && s.TotalPoints < sorted[i-1].TotalPoints {
			rank = i + 1
		}
		placements[i] = Placement{
			Rank:        rank,
			TotalPoints: s.TotalPoints,
			Entry:       s.Entry,
		}
	}
	return placements
}

// FromTotals pairs entries with their totals, defaulting missing entries to 0.
func FromTotals(entries []models.Entry, totals map[string]int) []Scored {
	scored := make([]Scored, len(entries))
	for i, e := range entries {
		scored[i] = Scored{Entry: e, TotalPoints: totals[e.ID.String()]}
	}
	return scored
}
