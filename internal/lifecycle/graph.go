// Package lifecycle moves leads through the sales funnel and keeps an
// append-only audit trail of every status change.
package lifecycle

import "github.com/wolfman30/dealership-ai-platform/internal/leads"

// funnel ranks the non-terminal statuses plus sold. lost sits outside the
// ranking: it is the exit reachable from any open status.
var funnel = map[leads.Status]int{
	leads.StatusNew:         0,
	leads.StatusContacted:   1,
	leads.StatusQualified:   2,
	leads.StatusNegotiating: 3,
	leads.StatusSold:        4,
}

var funnelOrder = []leads.Status{
	leads.StatusNew,
	leads.StatusContacted,
	leads.StatusQualified,
	leads.StatusNegotiating,
	leads.StatusSold,
}

// CanTransition reports whether to is reachable from from: any strictly
// forward move through the funnel, or lost from an open status.
func CanTransition(from, to leads.Status) bool {
	fromRank, ok := funnel[from]
	if !ok || from.IsTerminal() {
		return false
	}
	if to == leads.StatusLost {
		return true
	}
	toRank, ok := funnel[to]
	return ok && toRank > fromRank
}

// AllowedTargets returns the statuses reachable from from in funnel order,
// lost last. Terminal and unknown statuses return nil.
func AllowedTargets(from leads.Status) []leads.Status {
	var targets []leads.Status
	for _, s := range funnelOrder {
		if CanTransition(from, s) {
			targets = append(targets, s)
		}
	}
	if CanTransition(from, leads.StatusLost) {
		targets = append(targets, leads.StatusLost)
	}
	return targets
}
