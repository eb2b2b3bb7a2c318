/*
staterule.go - Jurisdiction rules, product splits and distributions

PURPOSE:
  Collects every jurisdiction observed for a hierarchy's certificates.
  A hierarchy observed in exactly one jurisdiction gets a single
  canonical catch-all rule instead of a spuriously narrow state rule -
  the data simply never exercised multiple jurisdictions.

ATTACHMENT:
  Every observed product code attaches to each applicable rule as a
  HierarchySplit. Each split is then crossed with each participant of
  the hierarchy version as a SplitDistribution carrying the
  participant's configured percentage, falling back to an equal split
  only when no explicit percentage exists.
*/
package hierarchy

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// buildRules populates the hierarchy version's rule set from the
// observed legs. Catch-all exclusivity is enforced by the rule set.
func buildRules(h *commission.Hierarchy, legs []commission.SplitLeg) error {
	states := observedStates(legs)
	products := observedProducts(legs)

	if len(states) <= 1 {
		// Single jurisdiction: collapse to the canonical catch-all and
		// discard the state-specific detail.
		rule := commission.StateRule{
			ID:       commission.CatchAllRuleID(h.ID),
			CatchAll: true,
			Splits:   buildSplits(products, h.Version.Participants),
		}
		return h.Version.Rules.Add(h.ID, rule)
	}

	for _, state := range states {
		rule := commission.StateRule{
			ID:     commission.StateRuleID(h.ID, state),
			State:  state,
			Splits: buildSplits(products, h.Version.Participants),
		}
		if err := h.Version.Rules.Add(h.ID, rule); err != nil {
			return err
		}
	}
	return nil
}

// buildSplits attaches every observed product to a rule and crosses it
// with the participant chain.
func buildSplits(products []commission.ProductCode, participants []commission.HierarchyParticipant) []commission.HierarchySplit {
	var splits []commission.HierarchySplit
	for _, product := range products {
		splits = append(splits, commission.HierarchySplit{
			Product:       product,
			Distributions: distribute(participants),
		})
	}
	return splits
}

// distribute assigns each participant its configured percentage. When no
// participant carries an explicit percentage the premium is split
// equally - never guessed beyond that.
func distribute(participants []commission.HierarchyParticipant) []commission.SplitDistribution {
	explicit := false
	for _, p := range participants {
		if !p.Rate.IsZero() {
			explicit = true
			break
		}
	}

	equal := decimal.Zero
	if !explicit && len(participants) > 0 {
		equal = decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(participants))))
	}

	var out []commission.SplitDistribution
	for _, p := range participants {
		pct := p.Rate
		if !explicit {
			pct = equal
		}
		out = append(out, commission.SplitDistribution{
			Level:   p.Level,
			Broker:  p.Broker,
			Percent: pct,
		})
	}
	return out
}

func observedStates(legs []commission.SplitLeg) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range legs {
		if l.State == "" {
			continue
		}
		if !seen[l.State] {
			seen[l.State] = true
			out = append(out, l.State)
		}
	}
	sort.Strings(out)
	return out
}

func observedProducts(legs []commission.SplitLeg) []commission.ProductCode {
	seen := make(map[commission.ProductCode]bool)
	var out []commission.ProductCode
	for _, l := range legs {
		if !seen[l.Product] {
			seen[l.Product] = true
			out = append(out, l.Product)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
