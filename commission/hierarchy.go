/*
hierarchy.go - Hierarchy, state rule and split distribution types

PURPOSE:
  A Hierarchy is the broker upline chain for one (group, split-sequence,
  writing-broker) triple. Hierarchies are deliberately NOT deduplicated
  by signature across split sequences: collapsing them would strand
  proposals with disjoint date ranges on one physical structure.

STATE RULES:
  A hierarchy version owns a set of state rules. Either the version has
  one canonical catch-all rule ("applies to all jurisdictions") or a set
  of explicit per-state rules - never both. The RuleSet type enforces
  that invariant at write time.
*/
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HIERARCHY - broker upline chain for one split sequence
// =============================================================================

type Hierarchy struct {
	ID            HierarchyID
	Group         GroupID
	Sequence      int
	WritingBroker BrokerID
	Signature     ConfigSignature

	// RepresentativeDate anchors proposal matching: the earliest
	// effective date observed for this triple's certificates.
	RepresentativeDate Date

	// Proposal is the single best-matching proposal (many hierarchies
	// may share one proposal; a hierarchy has exactly one).
	Proposal ProposalID

	Version HierarchyVersion
}

// HierarchyParticipant is one level of the upline chain.
type HierarchyParticipant struct {
	Level    int
	Broker   BrokerID
	Rate     decimal.Decimal
	Schedule ScheduleCode
}

// HierarchyVersion holds the participant chain and its state rules.
type HierarchyVersion struct {
	Number       int
	Participants []HierarchyParticipant
	Rules        RuleSet
}

// =============================================================================
// STATE RULES - jurisdiction applicability
// =============================================================================

// StateRule scopes a hierarchy version to jurisdictions. CatchAll rules
// carry no state list and apply everywhere.
type StateRule struct {
	ID       string
	CatchAll bool
	State    string // empty when CatchAll
	Splits   []HierarchySplit
}

// HierarchySplit links one product code to a state rule.
type HierarchySplit struct {
	Product       ProductCode
	Distributions []SplitDistribution
}

// SplitDistribution crosses a product split with one participant.
type SplitDistribution struct {
	Level   int
	Broker  BrokerID
	Percent decimal.Decimal
}

// =============================================================================
// RULE SET - enforces the catch-all exclusivity invariant
// =============================================================================

// RuleSet is the collection of state rules for one hierarchy version.
// It rejects, at write time, any mix of catch-all and per-state rules.
type RuleSet struct {
	Rules []StateRule
}

// HasCatchAll reports whether the set contains a catch-all rule.
func (rs *RuleSet) HasCatchAll() bool {
	for _, r := range rs.Rules {
		if r.CatchAll {
			return true
		}
	}
	return false
}

// CatchAll returns the catch-all rule, if present.
func (rs *RuleSet) CatchAll() (StateRule, bool) {
	for _, r := range rs.Rules {
		if r.CatchAll {
			return r, true
		}
	}
	return StateRule{}, false
}

// Add appends a rule, rejecting any combination of catch-all and
// per-state rules on the same version.
func (rs *RuleSet) Add(owner HierarchyID, rule StateRule) error {
	if rule.CatchAll && len(rs.Rules) > 0 {
		return &StateRuleConflictError{Hierarchy: owner}
	}
	if !rule.CatchAll && rs.HasCatchAll() {
		return &StateRuleConflictError{Hierarchy: owner}
	}
	rs.Rules = append(rs.Rules, rule)
	return nil
}

// =============================================================================
// RULE IDENTIFIERS
// =============================================================================

// CatchAllRuleID derives the deterministic id of a catch-all rule.
func CatchAllRuleID(h HierarchyID) string { return fmt.Sprintf("%s-ALL", h) }

// StateRuleID derives the deterministic id of a per-state rule.
func StateRuleID(h HierarchyID, state string) string { return fmt.Sprintf("%s-%s", h, state) }
