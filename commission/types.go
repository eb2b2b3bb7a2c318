/*
Package commission contains the core domain model for the commission
structure migration engine.

PURPOSE:
  This package defines the types shared by every pipeline stage: raw
  certificate split records, the normalized split legs they become,
  configuration signatures, proposals, hierarchies, assignments, and
  the deterministic identifier scheme that ties them together.

KEY CONCEPTS IN THIS FILE (types.go):
  - CertificateSplitRecord: One immutable raw input row
  - SplitLeg: One (certificate, split-sequence) with its ordered
    participant chain - the unit every later stage operates on
  - Participant: One broker at one level of a split chain
  - ConfigKey / NaturalKey: The business keys used for conformance
    filtering and proposal resolution

DESIGN PRINCIPLES:
  1. Immutability: Raw records are never modified, only reshaped
  2. Precision: decimal.Decimal for every commercial percentage
  3. Type Safety: Strong typing for group/broker/product identifiers
  4. Determinism: Every derived identifier is a pure function of
     natural keys so re-runs produce byte-identical output

SEE ALSO:
  - signature.go: ConfigSignature computation
  - proposal.go: Proposal and split configuration types
  - hierarchy.go: Hierarchy, state rule, and distribution types
*/
package commission

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type BrokerID string
type ProductCode string
type PlanCode string
type ScheduleCode string
type CertificateID string
type ProposalID string
type HierarchyID string

// Sentinel values observed in the raw snapshot. The ingestion collaborator
// does not normalize these; the extractor does.
const (
	// WildcardPlan is the canonical wildcard plan marker. Raw values of
	// NULL, empty, "N/A" and "*" all normalize to it before any key
	// comparison.
	WildcardPlan PlanCode = "*"

	// WildcardProduct is the canonical "all products" marker.
	WildcardProduct ProductCode = "*"

	// GroupNone marks certificates written without a group (individual
	// business). These bypass proposal resolution entirely.
	GroupNone GroupID = "NO-GROUP"

	// BrokerDirect marks direct-to-consumer policies with no writing
	// broker. Not a reportable resolution failure.
	BrokerDirect BrokerID = "DIRECT"
)

// NormalizePlan maps the raw plan code variants onto the canonical
// wildcard sentinel. Everything else passes through uppercased.
func NormalizePlan(raw string) PlanCode {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "N/A", "NA", "NULL", "*":
		return WildcardPlan
	default:
		return PlanCode(strings.ToUpper(strings.TrimSpace(raw)))
	}
}

// NormalizeGroup maps empty/zero group references onto GroupNone.
func NormalizeGroup(raw string) GroupID {
	switch strings.TrimSpace(raw) {
	case "", "0", "NONE":
		return GroupNone
	default:
		return GroupID(strings.TrimSpace(raw))
	}
}

// =============================================================================
// RAW INPUT - one row per (certificate, split-sequence, participant-level)
// =============================================================================

// CertificateSplitRecord is one raw snapshot row. Immutable input.
// Dates and plan codes are raw strings; the extractor normalizes them
// (an unparseable date is fatal to the extraction stage).
type CertificateSplitRecord struct {
	CertificateID CertificateID
	GroupID       string // raw, normalized by the extractor
	EffectiveDate string // raw ISO date, parsed by the extractor
	Product       ProductCode
	Plan          string // raw, normalized by the extractor
	SplitSequence int
	Level         int
	Broker        BrokerID
	SplitPercent  decimal.Decimal
	Schedule      ScheduleCode
	State         string // issue jurisdiction
}

// Broker is one entry of the broker master list.
type Broker struct {
	ID         BrokerID
	ExternalID string
	Name       string
}

// =============================================================================
// PARTICIPANT - one broker at one level of a split chain
// =============================================================================

type Participant struct {
	Level    int
	Broker   BrokerID
	Percent  decimal.Decimal
	Schedule ScheduleCode
}

// SortParticipants orders a chain by level, then broker for equal levels.
// Signature stability depends on this ordering being canonical.
func SortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Level != ps[j].Level {
			return ps[i].Level < ps[j].Level
		}
		return ps[i].Broker < ps[j].Broker
	})
}

// =============================================================================
// SPLIT LEG - one (certificate, split-sequence) with its full chain
// =============================================================================

// SplitLeg is the normalized unit of work: one certificate's split chain
// for one split sequence. The writing broker is the level-1 participant.
type SplitLeg struct {
	Certificate   CertificateID
	Group         GroupID
	EffectiveDate Date
	Product       ProductCode
	Plan          PlanCode
	Sequence      int
	State         string
	WritingBroker BrokerID
	Participants  []Participant // ordered by level
	Signature     ConfigSignature
}

// ConfigKey returns the conformance-filter key for this leg.
func (l SplitLeg) ConfigKey() ConfigKey {
	return ConfigKey{
		Group:         l.Group,
		EffectiveDate: l.EffectiveDate,
		Product:       l.Product,
		Plan:          l.Plan,
	}
}

// NaturalKey returns the proposal-resolution key for this leg.
func (l SplitLeg) NaturalKey() NaturalKey {
	return NaturalKey{
		Group:   l.Group,
		Year:    l.EffectiveDate.Year(),
		Product: l.Product,
		Plan:    l.Plan,
	}
}

// PercentSum returns the sum of the chain's split percentages.
func (l SplitLeg) PercentSum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range l.Participants {
		sum = sum.Add(p.Percent)
	}
	return sum
}

// =============================================================================
// BUSINESS KEYS
// =============================================================================

// ConfigKey is the grain of the non-conformance filter: certificates
// sharing this key must carry identical split structures.
type ConfigKey struct {
	Group         GroupID
	EffectiveDate Date
	Product       ProductCode
	Plan          PlanCode
}

// NaturalKey is the grain of the proposal key-mapping used by the
// classifier and the policy resolver.
type NaturalKey struct {
	Group   GroupID
	Year    int
	Product ProductCode
	Plan    PlanCode
}

// Less defines the canonical ordering of natural keys. All tie-breaks in
// the classifier use this ordering so output is stable across runs.
func (k NaturalKey) Less(other NaturalKey) bool {
	if k.Group != other.Group {
		return k.Group < other.Group
	}
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	if k.Product != other.Product {
		return k.Product < other.Product
	}
	return k.Plan < other.Plan
}

// SortNaturalKeys sorts keys into canonical order.
func SortNaturalKeys(keys []NaturalKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
