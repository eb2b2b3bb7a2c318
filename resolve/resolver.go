/*
Package resolve assigns every policy back to the proposal structure.

PURPOSE:
  The resolver is an ordered list of matcher strategies tried in
  sequence with early exit. Which tier succeeded is recorded as the
  assignment's provenance - every fallback is explicit, never inferred
  silently:

  1. KeyMapping       exact (group, year, product, plan) hit
  2. ProductWildcard  an all-products proposal exists for (group, year)
  3. YearAdjacent     same (group, product, plan), nearest other year
  4. GroupFallback    the group's single best proposal

  A policy matching no tier - and not a direct-to-consumer sentinel -
  is a reportable warning and an exception candidate.

DETERMINISM:
  Resolution is idempotent: unchanged inputs produce identical
  assignments and provenance tags. All tie-breaks are by id or by
  canonical key order.

SEE ALSO:
  - exception.go: standalone structures for policies that bypass
    proposal sharing
*/
package resolve

import (
	"fmt"
	"sort"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// POLICY - the unit being resolved
// =============================================================================

// Policy is one certificate's resolution view.
type Policy struct {
	Certificate   commission.CertificateID
	Group         commission.GroupID
	Year          int
	Product       commission.ProductCode
	Plan          commission.PlanCode
	WritingBroker commission.BrokerID
}

// Direct reports whether this is a direct-to-consumer policy.
func (p Policy) Direct() bool { return p.WritingBroker == commission.BrokerDirect }

// PoliciesFromLegs derives one policy per certificate, in canonical
// certificate order. The certificate's first leg supplies the key fields.
func PoliciesFromLegs(legs []commission.SplitLeg) []Policy {
	byCert := make(map[commission.CertificateID]Policy)
	var order []commission.CertificateID
	for _, leg := range legs {
		if _, seen := byCert[leg.Certificate]; seen {
			continue
		}
		order = append(order, leg.Certificate)
		byCert[leg.Certificate] = Policy{
			Certificate:   leg.Certificate,
			Group:         leg.Group,
			Year:          leg.EffectiveDate.Year(),
			Product:       leg.Product,
			Plan:          leg.Plan,
			WritingBroker: leg.WritingBroker,
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]Policy, 0, len(order))
	for _, c := range order {
		out = append(out, byCert[c])
	}
	return out
}

// =============================================================================
// STATE - the shared read-only resolution inputs
// =============================================================================

// State carries the classifier outputs every matcher reads. Written by
// the classification stage, read-only here.
type State struct {
	KeyMap           map[commission.NaturalKey]commission.ProposalID
	ProposalsByGroup map[commission.GroupID][]commission.Proposal
}

// NewState indexes proposals by group and adopts the key mapping.
func NewState(keyMap map[commission.NaturalKey]commission.ProposalID, proposals []commission.Proposal) *State {
	s := &State{
		KeyMap:           keyMap,
		ProposalsByGroup: make(map[commission.GroupID][]commission.Proposal),
	}
	for _, p := range proposals {
		s.ProposalsByGroup[p.Group] = append(s.ProposalsByGroup[p.Group], p)
	}
	for g := range s.ProposalsByGroup {
		ps := s.ProposalsByGroup[g]
		sort.Slice(ps, func(i, j int) bool { return commission.ProposalIDLess(ps[i].ID, ps[j].ID) })
	}
	return s
}

// =============================================================================
// MATCHER - one fallback tier
// =============================================================================

// Matcher is one resolution tier. Attempt returns the matched proposal
// and true, or false when the tier does not apply.
type Matcher interface {
	Provenance() commission.Provenance
	Attempt(p Policy, s *State) (commission.ProposalID, bool)
}

// Matchers returns the resolution cascade in tier order.
func Matchers() []Matcher {
	return []Matcher{
		keyMappingMatcher{},
		productWildcardMatcher{},
		yearAdjacentMatcher{},
		groupFallbackMatcher{},
	}
}

// -----------------------------------------------------------------------------
// Tier 1: exact key match
// -----------------------------------------------------------------------------

type keyMappingMatcher struct{}

func (keyMappingMatcher) Provenance() commission.Provenance { return commission.ProvenanceKeyMapping }

func (keyMappingMatcher) Attempt(p Policy, s *State) (commission.ProposalID, bool) {
	id, ok := s.KeyMap[commission.NaturalKey{Group: p.Group, Year: p.Year, Product: p.Product, Plan: p.Plan}]
	return id, ok
}

// -----------------------------------------------------------------------------
// Tier 2: product wildcard
// -----------------------------------------------------------------------------

type productWildcardMatcher struct{}

func (productWildcardMatcher) Provenance() commission.Provenance {
	return commission.ProvenanceProductWildcard
}

func (productWildcardMatcher) Attempt(p Policy, s *State) (commission.ProposalID, bool) {
	for _, prop := range s.ProposalsByGroup[p.Group] {
		if !prop.AllProducts() {
			continue
		}
		if rangeTouchesYear(prop, p.Year) {
			return prop.ID, true
		}
	}
	return "", false
}

// rangeTouchesYear reports whether the proposal's range intersects the
// policy's calendar year.
func rangeTouchesYear(p commission.Proposal, year int) bool {
	if p.EffectiveFrom.After(commission.EndOfYear(year)) {
		return false
	}
	return p.EffectiveTo == nil || p.EffectiveTo.AfterOrEqual(commission.StartOfYear(year))
}

// -----------------------------------------------------------------------------
// Tier 3: year-adjacent key match
// -----------------------------------------------------------------------------

type yearAdjacentMatcher struct{}

func (yearAdjacentMatcher) Provenance() commission.Provenance { return commission.ProvenanceYearAdjacent }

func (yearAdjacentMatcher) Attempt(p Policy, s *State) (commission.ProposalID, bool) {
	bestDist := -1
	bestYear := 0
	var bestID commission.ProposalID

	for k, id := range s.KeyMap {
		if k.Group != p.Group || k.Product != p.Product || k.Plan != p.Plan || k.Year == p.Year {
			continue
		}
		dist := k.Year - p.Year
		if dist < 0 {
			dist = -dist
		}
		// Minimal distance wins; ties go to the earlier year.
		if bestDist < 0 || dist < bestDist || (dist == bestDist && k.Year < bestYear) {
			bestDist, bestYear, bestID = dist, k.Year, id
		}
	}
	return bestID, bestDist >= 0
}

// -----------------------------------------------------------------------------
// Tier 4: group fallback
// -----------------------------------------------------------------------------

type groupFallbackMatcher struct{}

func (groupFallbackMatcher) Provenance() commission.Provenance {
	return commission.ProvenanceGroupFallback
}

func (groupFallbackMatcher) Attempt(p Policy, s *State) (commission.ProposalID, bool) {
	props := s.ProposalsByGroup[p.Group]
	if len(props) == 0 {
		return "", false
	}
	// Prefer an open-ended proposal (first by id), else the most
	// recently started one.
	for _, prop := range props {
		if prop.OpenEnded() {
			return prop.ID, true
		}
	}
	best := props[0]
	for _, prop := range props[1:] {
		if prop.EffectiveFrom.After(best.EffectiveFrom) {
			best = prop
		}
	}
	return best.ID, true
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolution is the resolver output.
type Resolution struct {
	Assignments []commission.PolicyAssignment

	// Unresolved policies are reportable warnings and exception
	// candidates. Direct-to-consumer sentinels are excluded.
	Unresolved []Policy

	// Direct holds unmatched direct-to-consumer policies: still routed
	// to the exception path, but an expected miss, never a warning.
	Direct []Policy
}

// Misses returns one error per unresolved policy, each wrapping
// commission.ErrNoProposal. The group fallback is the last tier, so an
// unresolved policy always means its group had no proposal to offer.
func (r *Resolution) Misses() []error {
	var out []error
	for _, p := range r.Unresolved {
		out = append(out, fmt.Errorf("certificate %s group %s: %w",
			p.Certificate, p.Group, commission.ErrNoProposal))
	}
	return out
}

// Resolve runs the cascade over every policy, with early exit per tier.
func Resolve(policies []Policy, s *State) *Resolution {
	matchers := Matchers()
	out := &Resolution{}

	for _, p := range policies {
		assigned := false
		for _, m := range matchers {
			if id, ok := m.Attempt(p, s); ok {
				out.Assignments = append(out.Assignments, commission.PolicyAssignment{
					Certificate: p.Certificate,
					Group:       p.Group,
					Proposal:    id,
					Provenance:  m.Provenance(),
				})
				assigned = true
				break
			}
		}
		if assigned {
			continue
		}
		if p.Direct() {
			out.Direct = append(out.Direct, p)
		} else {
			out.Unresolved = append(out.Unresolved, p)
		}
	}
	return out
}
