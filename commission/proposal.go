/*
proposal.go - Proposal and split configuration types

PURPOSE:
  A Proposal is a group-level commission agreement: a date range, a
  product/plan scope, a lead broker and a configuration signature.
  Proposals are created by the classifier, widened by the consolidator,
  and date-normalized so that each group's proposals form a contiguous,
  non-overlapping timeline.

SCOPE SEMANTICS:
  A nil product or plan list means wildcard ("all"). The consolidator
  widens an explicit list to wildcard once it exceeds ScopeWidenLimit,
  to avoid unbounded scope lists.
*/
package commission

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CLASSIFICATION TIER
// =============================================================================

// Tier records which classifier state produced a proposal.
type Tier string

const (
	TierSimple       Tier = "simple"
	TierPlan         Tier = "plan_differentiated"
	TierYear         Tier = "year_differentiated"
	TierGranular     Tier = "granular"
	TierConsolidated Tier = "consolidated"
)

// =============================================================================
// PROPOSAL - group-level commission agreement
// =============================================================================

// ScopeWidenLimit is the scope-list size beyond which the consolidator
// replaces an explicit product or plan list with the wildcard.
const ScopeWidenLimit = 10

type Proposal struct {
	ID    ProposalID
	Group GroupID

	// Products / Plans: nil means wildcard scope.
	Products []ProductCode
	Plans    []PlanCode

	EffectiveFrom Date
	EffectiveTo   *Date // nil = open-ended

	LeadBroker BrokerID
	Signature  ConfigSignature
	Tier       Tier
}

// Range returns the proposal's date range.
func (p Proposal) Range() DateRange { return DateRange{From: p.EffectiveFrom, To: p.EffectiveTo} }

// OpenEnded reports whether the proposal has no end date.
func (p Proposal) OpenEnded() bool { return p.EffectiveTo == nil }

// AllProducts reports whether the proposal covers every product.
func (p Proposal) AllProducts() bool { return p.Products == nil }

// AllPlans reports whether the proposal covers every plan.
func (p Proposal) AllPlans() bool { return p.Plans == nil }

// CoversProduct reports whether the scope includes the product.
func (p Proposal) CoversProduct(code ProductCode) bool {
	if p.AllProducts() {
		return true
	}
	for _, c := range p.Products {
		if c == code {
			return true
		}
	}
	return false
}

// CoversPlan reports whether the scope includes the plan.
func (p Proposal) CoversPlan(code PlanCode) bool {
	if p.AllPlans() || code == WildcardPlan {
		return true
	}
	for _, c := range p.Plans {
		if c == code {
			return true
		}
	}
	return false
}

// Covers reports whether a certificate's key falls inside this proposal:
// date within range, product and plan within scope.
func (p Proposal) Covers(date Date, product ProductCode, plan PlanCode) bool {
	return p.Range().Contains(date) && p.CoversProduct(product) && p.CoversPlan(plan)
}

// =============================================================================
// SPLIT CONFIGURATION - premium split version attached to a proposal
// =============================================================================

// SplitParticipant is one broker's share of a proposal's premium split.
// The Hierarchy link is filled in by the hierarchy builder stage.
type SplitParticipant struct {
	Broker    BrokerID
	Percent   decimal.Decimal
	Sequence  int
	Hierarchy HierarchyID
}

// SplitConfiguration is the premium split version for one proposal.
// Participant percentages should sum to 100; deviations are surfaced
// by the exception path, never silently corrected.
type SplitConfiguration struct {
	Proposal     ProposalID
	Version      int
	Participants []SplitParticipant
}

// PercentSum returns the sum of participant percentages.
func (c SplitConfiguration) PercentSum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range c.Participants {
		sum = sum.Add(p.Percent)
	}
	return sum
}
