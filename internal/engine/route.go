package engine

import (
	"fmt"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
)

// verdictRoute is the routing outcome for one reviewer verdict.
type verdictRoute struct {
	next State
	// reason and retry are set when next is StateEscalate.
	reason string
	retry  State
}

// routeVerdict decides the next state for a validated reviewer verdict.
// This is the only place verdict routing lives; both the phase loop and the
// plan-review loop go through it.
//
// Items tagged human_required always escalate, whatever the readiness says.
// A corrections verdict whose items are all informational has nothing the
// author can act on, so it escalates rather than spinning the review loop.
func routeVerdict(v protocol.ReviewerVerdict, acceptState State) verdictRoute {
	if v.Readiness == protocol.Ready {
		return verdictRoute{next: acceptState}
	}
	if v.HasAction(protocol.ActionHumanRequired) {
		return verdictRoute{
			next:   StateEscalate,
			reason: fmt.Sprintf("reviewer verdict %s has items that require human review", v.Readiness),
			retry:  StateAutoFix,
		}
	}
	if v.HasAction(protocol.ActionAutoFix) {
		return verdictRoute{next: StateAutoFix}
	}
	return verdictRoute{
		next:   StateEscalate,
		reason: fmt.Sprintf("reviewer verdict %s has no actionable items", v.Readiness),
		retry:  StateReview,
	}
}

// actionableItems returns the verdict items an author fix should address.
// Informational items are reported but never forwarded to the author.
func actionableItems(v *protocol.ReviewerVerdict) []protocol.ReviewItem {
	if v == nil {
		return nil
	}
	var items []protocol.ReviewItem
	for _, item := range v.Items {
		if item.Action != protocol.ActionInformational {
			items = append(items, item)
		}
	}
	return items
}
