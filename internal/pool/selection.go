package pool

import (
	"sort"
	"sync/atomic"
	"time"
)

// LoadBalancingMode selects whether priority groups are honored.
type LoadBalancingMode string

const (
	ModePriority LoadBalancingMode = "priority"
	ModeBalanced LoadBalancingMode = "balanced"
)

// selectFrom runs the selection algorithm (spec.md §4.1) over a set of
// snapshots already filtered to enabled + not-rate-limited +
// not-circuit-broken candidates. roundRobin is the pool's shared,
// monotonically increasing counter used to break full ties without
// creating hotspots.
func selectFrom(candidates []snapshot, mode LoadBalancingMode, roundRobin *atomic.Int64) (snapshot, bool) {
	if len(candidates) == 0 {
		return snapshot{}, false
	}

	group := candidates
	if mode == ModePriority {
		group = lowestPriorityGroup(candidates)
	}

	sort.SliceStable(group, func(i, j int) bool {
		if group[i].inFlight != group[j].inFlight {
			return group[i].inFlight < group[j].inFlight
		}
		if group[i].balance != group[j].balance {
			return group[i].balance > group[j].balance
		}
		return false
	})

	// Collect the best-ranked tier (same inFlight and balance as the head)
	// and break remaining ties with round robin, to avoid hotspotting the
	// single slice index 0 result under repeated equal-rank selection.
	best := group[0]
	tier := []snapshot{best}
	for _, s := range group[1:] {
		if s.inFlight == best.inFlight && s.balance == best.balance {
			tier = append(tier, s)
		}
	}
	if len(tier) == 1 {
		return tier[0], true
	}

	sort.SliceStable(tier, func(i, j int) bool { return tier[i].id < tier[j].id })
	idx := roundRobin.Add(1) - 1
	chosen := tier[int(idx%int64(len(tier)))]
	return chosen, true
}

func lowestPriorityGroup(candidates []snapshot) []snapshot {
	min := candidates[0].priority
	for _, c := range candidates[1:] {
		if c.priority < min {
			min = c.priority
		}
	}
	group := make([]snapshot, 0, len(candidates))
	for _, c := range candidates {
		if c.priority == min {
			group = append(group, c)
		}
	}
	return group
}

// Context is the lease a caller receives from Acquire: the selected
// credential's id plus the fields needed to build and send a request.
type Context struct {
	CredentialID int64
	ProfileARN   string
	Region       string
	MachineID    string
	AuthFlavor   AuthFlavor
	AcquiredAt   time.Time
}
