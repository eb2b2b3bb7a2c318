/*
assignment.go - Policy resolution and exception record types

PURPOSE:
  The policy resolver assigns every certificate to exactly one proposal
  and records WHICH fallback tier produced the assignment (provenance).
  Certificates that bypass proposal sharing - no-group business, flagged
  non-conformant groups, bad percent sums - become standalone
  PolicyHierarchyAssignments carrying their original split structure
  verbatim: a lossless escape hatch, not a best-effort approximation.
*/
package commission

import "github.com/shopspring/decimal"

// =============================================================================
// PROVENANCE - which resolver tier produced an assignment
// =============================================================================

type Provenance string

const (
	ProvenanceKeyMapping      Provenance = "key_mapping"
	ProvenanceProductWildcard Provenance = "product_wildcard"
	ProvenanceYearAdjacent    Provenance = "year_adjacent"
	ProvenanceGroupFallback   Provenance = "group_fallback"
)

// PolicyAssignment links one certificate to its resolved proposal.
type PolicyAssignment struct {
	Certificate CertificateID
	Group       GroupID
	Proposal    ProposalID
	Provenance  Provenance
}

// =============================================================================
// EXCEPTION RECORDS - certificates that bypass proposal sharing
// =============================================================================

// ExceptionReason is the typed reason a certificate took the exception path.
type ExceptionReason string

const (
	ReasonNoGroup       ExceptionReason = "no_group"
	ReasonNonConformant ExceptionReason = "non_conformant"
	ReasonUnresolved    ExceptionReason = "unresolved"
)

// ExceptionParticipant is one verbatim row of the original structure.
type ExceptionParticipant struct {
	Sequence int
	Level    int
	Broker   BrokerID
	Percent  decimal.Decimal
	Schedule ScheduleCode
}

// ProductRuleLink attaches a product to an existing catch-all state rule.
// Exception structures must never fragment into per-state rules.
type ProductRuleLink struct {
	Product   ProductCode
	StateRule string
}

// PolicyHierarchyAssignment is the standalone structure for one
// exception certificate.
type PolicyHierarchyAssignment struct {
	Certificate  CertificateID
	Group        GroupID
	Reason       ExceptionReason
	Participants []ExceptionParticipant
	ProductLinks []ProductRuleLink
}

// =============================================================================
// CONFORMANCE - per-group resolution quality
// =============================================================================

type ConformanceClass string

const (
	Conformant       ConformanceClass = "conformant"        // 100%
	NearlyConformant ConformanceClass = "nearly_conformant" // >= 95%
	NonConformant    ConformanceClass = "non_conformant"    // < 95%
)

// ConformanceRecord is the per-group roll-up consumed by the export
// stage. Advisory metadata, never a blocking failure.
type ConformanceRecord struct {
	Group      GroupID
	Total      int
	Resolved   int
	Percentage decimal.Decimal
	Class      ConformanceClass
}

// NearlyConformantFloor is the conformance percentage at or above which
// a group is classified nearly-conformant.
var NearlyConformantFloor = decimal.NewFromInt(95)

// Classify derives the conformance class from a percentage.
func Classify(pct decimal.Decimal) ConformanceClass {
	hundred := decimal.NewFromInt(100)
	switch {
	case pct.GreaterThanOrEqual(hundred):
		return Conformant
	case pct.GreaterThanOrEqual(NearlyConformantFloor):
		return NearlyConformant
	default:
		return NonConformant
	}
}
