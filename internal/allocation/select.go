package allocation

import (
	"sort"

	"github.com/spigell/intern-allocator/internal/internship"
)

// Plan is the outcome of a selection round for one posting.
type Plan struct {
	// Selected holds application ids in selection order.
	Selected []int64
	// Reserved counts the slots filled per quota category.
	Reserved map[internship.Category]int
	// Merit counts the slots filled from the open pool.
	Merit int
	// Capacity is the number of slots that were available for this round.
	Capacity int
}

// Select picks applications for a posting. Reserved categories are filled first in
// ascending category order, then the remaining capacity goes to the best of the rest.
// allocated holds slots already taken per category and may be nil.
func Select(candidates []internship.Candidate, openings int, quota internship.Quota, allocated map[internship.Category]int) Plan {
	plan := Plan{Reserved: map[internship.Category]int{}}

	taken := 0
	for _, n := range allocated {
		taken += n
	}

	plan.Capacity = openings - taken
	if plan.Capacity <= 0 || len(candidates) == 0 {
		if plan.Capacity < 0 {
			plan.Capacity = 0
		}
		return plan
	}

	ranked := Rank(candidates)
	picked := make(map[int64]bool, plan.Capacity)

	for _, category := range quota.Categories() {
		want := quota[category] - allocated[category]
		for _, c := range ranked {
			if want <= 0 || len(plan.Selected) >= plan.Capacity {
				break
			}
			if c.Category != category || picked[c.ApplicationID] {
				continue
			}
			picked[c.ApplicationID] = true
			plan.Selected = append(plan.Selected, c.ApplicationID)
			plan.Reserved[category]++
			want--
		}
	}

	for _, c := range ranked {
		if len(plan.Selected) >= plan.Capacity {
			break
		}
		if picked[c.ApplicationID] {
			continue
		}
		picked[c.ApplicationID] = true
		plan.Selected = append(plan.Selected, c.ApplicationID)
		plan.Merit++
	}

	return plan
}

// Rank orders candidates by score descending, ties broken by application id ascending.
// The input slice is not modified.
func Rank(candidates []internship.Candidate) []internship.Candidate {
	ranked := make([]internship.Candidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ApplicationID < ranked[j].ApplicationID
	})

	return ranked
}
