/*
Package audit measures how cleanly each group's certificates resolved.

PURPOSE:
  For every certificate - deduplicated across all earlier stages - the
  auditor counts how many proposals cover its natural key. Exactly one
  is conformant; zero or many is not. The per-group roll-up
  (conformant / total) classifies the group for export eligibility:

    Conformant         100%
    Nearly-Conformant  >= 95%
    Non-Conformant     <  95%

  The classification is advisory metadata. Ambiguity is reported here,
  never treated as a fatal pipeline error.

NOTES:
  Groups are independent; the roll-up never crosses group boundaries.
  Percentages are decimal arithmetic end to end - no float division.
*/
package audit

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// Finding is the per-certificate audit detail behind a roll-up.
type Finding struct {
	Certificate commission.CertificateID
	Group       commission.GroupID
	Key         commission.NaturalKey

	// Covering is how many proposals cover the certificate's natural
	// key. Anything but exactly one is a non-conformant certificate.
	Covering int
}

// Conformant reports whether the certificate resolved unambiguously.
func (f Finding) Conformant() bool { return f.Covering == 1 }

// Report is the auditor output: one record per group plus the
// certificate-level findings for anything ambiguous.
type Report struct {
	Records []commission.ConformanceRecord

	// Ambiguous holds the findings with zero or many covering
	// proposals, in certificate order.
	Ambiguous []Finding
}

// Run audits every certificate in legs against the final proposal set.
// Legs from all pools are accepted; certificates are deduplicated here.
func Run(legs []commission.SplitLeg, proposals []commission.Proposal) *Report {
	byGroup := make(map[commission.GroupID][]commission.Proposal)
	for _, p := range proposals {
		byGroup[p.Group] = append(byGroup[p.Group], p)
	}

	findings := collectFindings(legs, byGroup)

	counts := make(map[commission.GroupID]*tally)
	var groups []commission.GroupID
	report := &Report{}

	for _, f := range findings {
		t := counts[f.Group]
		if t == nil {
			t = &tally{}
			counts[f.Group] = t
			groups = append(groups, f.Group)
		}
		t.total++
		if f.Conformant() {
			t.conformant++
		} else {
			report.Ambiguous = append(report.Ambiguous, f)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	for _, g := range groups {
		t := counts[g]
		pct := decimal.Zero
		if t.total > 0 {
			pct = decimal.NewFromInt(int64(t.conformant)).
				Mul(decimal.NewFromInt(100)).
				Div(decimal.NewFromInt(int64(t.total)))
		}
		report.Records = append(report.Records, commission.ConformanceRecord{
			Group:      g,
			Total:      t.total,
			Resolved:   t.conformant,
			Percentage: pct,
			Class:      commission.Classify(pct),
		})
	}
	return report
}

type tally struct {
	total      int
	conformant int
}

// collectFindings dedupes certificates and counts covering proposals
// per natural key. The certificate's first leg supplies its key.
func collectFindings(legs []commission.SplitLeg, byGroup map[commission.GroupID][]commission.Proposal) []Finding {
	seen := make(map[commission.CertificateID]bool)
	var out []Finding
	for _, leg := range legs {
		if seen[leg.Certificate] {
			continue
		}
		seen[leg.Certificate] = true

		key := leg.NaturalKey()
		out = append(out, Finding{
			Certificate: leg.Certificate,
			Group:       leg.Group,
			Key:         key,
			Covering:    coveringProposals(key, byGroup[leg.Group]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Certificate < out[j].Certificate })
	return out
}

// coveringProposals counts the proposals whose scope and date range both
// cover the key.
func coveringProposals(key commission.NaturalKey, proposals []commission.Proposal) int {
	n := 0
	for _, p := range proposals {
		if !p.CoversProduct(key.Product) || !p.CoversPlan(key.Plan) {
			continue
		}
		if rangeTouchesYear(p, key.Year) {
			n++
		}
	}
	return n
}

// rangeTouchesYear reports whether the proposal's range intersects the
// key's calendar year.
func rangeTouchesYear(p commission.Proposal, year int) bool {
	if p.EffectiveFrom.After(commission.EndOfYear(year)) {
		return false
	}
	return p.EffectiveTo == nil || p.EffectiveTo.AfterOrEqual(commission.StartOfYear(year))
}
