// -----------------------------------------------------------------------
// Planner - Fleet-wide distribution of client start requests
// -----------------------------------------------------------------------

package registry

import (
	"sort"

	"github.com/ternarybob/onero/internal/models"
)

// PlanConnect distributes a request for new load clients across the connected
// managers one client at a time in manager-ID order, skipping any manager
// that has reached its cap. The plan maps manager ID to the number of clients
// it should start; the total may fall short of requested when the fleet lacks
// capacity.
func PlanConnect(managers []*models.ClientManagerEntry, requested int) map[string]int {
	plan := make(map[string]int)
	if requested <= 0 || len(managers) == 0 {
		return plan
	}

	ordered := make([]*models.ClientManagerEntry, len(managers))
	copy(ordered, managers)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	capacity := make(map[string]int, len(ordered))
	for _, m := range ordered {
		capacity[m.ID] = m.AvailableCapacity()
	}

	remaining := requested
	for remaining > 0 {
		progress := false
		for _, m := range ordered {
			if remaining == 0 {
				break
			}
			if capacity[m.ID]-plan[m.ID] <= 0 {
				continue
			}
			plan[m.ID]++
			remaining--
			progress = true
		}
		if !progress {
			break // fleet is saturated
		}
	}

	for id, n := range plan {
		if n == 0 {
			delete(plan, id)
		}
	}
	return plan
}

// PlanTotal sums the clients a plan will start.
func PlanTotal(plan map[string]int) int {
	total := 0
	for _, n := range plan {
		total += n
	}
	return total
}
