/*
exception.go - Standalone structures for certificates that bypass
proposal sharing

PURPOSE:
  Three populations arrive here: no-group business, certificates under
  flagged non-conformant keys, and policies the resolver could not
  place. Each certificate gets exactly one PolicyHierarchyAssignment
  carrying its original participant rows verbatim - nothing is
  averaged, merged or re-derived.

PRODUCT LINKS:
  Exception products attach only to an existing catch-all rule of the
  certificate's (group, sequence, writing-broker) hierarchy. When that
  hierarchy fragmented into per-state rules, or does not exist, the
  product is left unlinked rather than inventing a rule.
*/
package resolve

import (
	"sort"

	"github.com/warp/commission-engine/commission"
)

// ExceptionBuilder accumulates exception structures across the reason
// categories. A certificate routed once is never routed again; the
// first reason wins.
type ExceptionBuilder struct {
	hierarchies map[hierKey]*ruleRef
	seen        map[commission.CertificateID]bool
	out         []commission.PolicyHierarchyAssignment
}

type hierKey struct {
	group    commission.GroupID
	sequence int
	broker   commission.BrokerID
}

type ruleRef struct {
	ruleID string
}

// NewExceptionBuilder indexes the catch-all rules of the built
// hierarchies so exception products can attach to them.
func NewExceptionBuilder(hierarchies []commission.Hierarchy) *ExceptionBuilder {
	b := &ExceptionBuilder{
		hierarchies: make(map[hierKey]*ruleRef),
		seen:        make(map[commission.CertificateID]bool),
	}
	for _, h := range hierarchies {
		rule, ok := h.Version.Rules.CatchAll()
		if !ok {
			continue
		}
		k := hierKey{group: h.Group, sequence: h.Sequence, broker: h.WritingBroker}
		b.hierarchies[k] = &ruleRef{ruleID: rule.ID}
	}
	return b
}

// Route builds one standalone structure per certificate present in legs,
// tagged with reason. Legs are grouped by certificate; participant rows
// are carried verbatim in (sequence, level) order.
func (b *ExceptionBuilder) Route(legs []commission.SplitLeg, reason commission.ExceptionReason) {
	byCert := make(map[commission.CertificateID][]commission.SplitLeg)
	var order []commission.CertificateID
	for _, leg := range legs {
		if _, ok := byCert[leg.Certificate]; !ok {
			order = append(order, leg.Certificate)
		}
		byCert[leg.Certificate] = append(byCert[leg.Certificate], leg)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, cert := range order {
		if b.seen[cert] {
			continue
		}
		b.seen[cert] = true
		b.out = append(b.out, b.buildOne(cert, byCert[cert], reason))
	}
}

// Routed reports whether a certificate already took the exception path.
func (b *ExceptionBuilder) Routed(cert commission.CertificateID) bool { return b.seen[cert] }

// Assignments returns everything routed so far, in routing order.
func (b *ExceptionBuilder) Assignments() []commission.PolicyHierarchyAssignment { return b.out }

func (b *ExceptionBuilder) buildOne(cert commission.CertificateID, legs []commission.SplitLeg, reason commission.ExceptionReason) commission.PolicyHierarchyAssignment {
	a := commission.PolicyHierarchyAssignment{
		Certificate: cert,
		Group:       legs[0].Group,
		Reason:      reason,
	}

	sorted := make([]commission.SplitLeg, len(legs))
	copy(sorted, legs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	seenProduct := make(map[commission.ProductCode]bool)
	for _, leg := range sorted {
		for _, p := range leg.Participants {
			a.Participants = append(a.Participants, commission.ExceptionParticipant{
				Sequence: leg.Sequence,
				Level:    p.Level,
				Broker:   p.Broker,
				Percent:  p.Percent,
				Schedule: p.Schedule,
			})
		}
		if !seenProduct[leg.Product] {
			seenProduct[leg.Product] = true
			link := commission.ProductRuleLink{Product: leg.Product}
			k := hierKey{group: leg.Group, sequence: leg.Sequence, broker: leg.WritingBroker}
			if ref, ok := b.hierarchies[k]; ok {
				link.StateRule = ref.ruleID
			}
			a.ProductLinks = append(a.ProductLinks, link)
		}
	}
	return a
}
