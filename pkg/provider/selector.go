package provider

import (
	"sort"
)

// Requirements constrain provider selection.
type Requirements struct {
	Features []string `json:"features"`
}

// SelectBest picks the preferred provider for a new stream.
//
// Enabled providers that are active or degraded are ordered by priority
// (lower first), ties broken by higher uptime. The first one that is healthy,
// has capacity and carries every required feature wins. If none qualifies the
// first ordered provider is returned with fallback set, so callers can keep
// serving on a degraded path and report it. Returns nil when no provider is
// enabled and active or degraded.
func SelectBest(providers []Provider, req Requirements) (best *Provider, fallback bool) {
	candidates := make([]*Provider, 0, len(providers))
	for i := range providers {
		p := &providers[i]
		if !p.Enabled {
			continue
		}
		if p.Status != StatusActive && p.Status != StatusDegraded {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Health.UptimePercent != b.Health.UptimePercent {
			return a.Health.UptimePercent > b.Health.UptimePercent
		}
		// Equal keys: order by name so input order never decides.
		return a.Name < b.Name
	})

	for _, p := range candidates {
		if p.HasCapacity() && p.IsHealthy() && p.HasFeatures(req.Features) {
			return p, false
		}
	}
	return candidates[0], true
}
