/*
classifier.go - The five-tier proposal classification cascade

PURPOSE:
  Produces the smallest possible set of proposals covering the
  conformant pool. Tiers are tried in order, each consuming the keys it
  can resolve and passing the remainder on:

  1. SIMPLE             whole group collapses to one signature
                        -> one open-ended, wildcard-scope proposal
  2. PLAN-DIFFERENTIATED  a product has multiple signatures but each
                        (product, plan) has exactly one
                        -> one proposal per (product, plan)
  3. YEAR-DIFFERENTIATED  a (product, plan) has multiple signatures but
                        each (year, product, plan) has exactly one
                        -> one proposal per (year, product, plan)
  4. GRANULAR           one proposal per exact (year, product, plan)
                        for whatever remains
  5. CONSOLIDATION      granular proposals sharing a signature merge
                        into one proposal spanning the union of their
                        ranges and scopes

DETERMINISM:
  Groups are classified independently (embarrassingly parallel, one
  worker per group). Within a group every iteration walks keys in
  canonical natural-key order, so proposal ordinals - and therefore
  ids - are identical on every run.

SEE ALSO:
  - consolidate.go: tier 5
  - daterange.go: gap/overlap normalization applied afterwards
*/
package classify

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// RESULT
// =============================================================================

// Result is the classifier output for the whole conformant pool.
type Result struct {
	// Proposals, sorted by id, covering every conformant certificate.
	Proposals []commission.Proposal

	// Configurations holds one premium split version per proposal.
	// Hierarchy links are filled in by the hierarchy builder.
	Configurations []commission.SplitConfiguration

	// KeyMap maps every observed natural key to exactly one proposal.
	KeyMap map[commission.NaturalKey]commission.ProposalID
}

// =============================================================================
// CLASSIFY - fan out per group, merge deterministically
// =============================================================================

// Classify runs the cascade over the conformant pool. Workers bounds the
// per-group parallelism; values < 1 mean sequential. No rule crosses a
// group boundary, so each group's records stay on one worker.
func Classify(legs []commission.SplitLeg, workers int) (*Result, error) {
	byGroup := make(map[commission.GroupID][]commission.SplitLeg)
	var groups []commission.GroupID
	for _, leg := range legs {
		if _, seen := byGroup[leg.Group]; !seen {
			groups = append(groups, leg.Group)
		}
		byGroup[leg.Group] = append(byGroup[leg.Group], leg)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	if workers < 1 {
		workers = 1
	}

	// Workers write to distinct slice slots; no cross-group state.
	results := make([]*groupResult, len(groups))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, id := range groups {
		i, id := i, id
		g.Go(func() error {
			results[i] = classifyGroup(id, byGroup[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in group order: output is independent of scheduling.
	out := &Result{KeyMap: make(map[commission.NaturalKey]commission.ProposalID)}
	for _, r := range results {
		out.Proposals = append(out.Proposals, r.proposals...)
		out.Configurations = append(out.Configurations, r.configurations...)
		for k, v := range r.keyMap {
			out.KeyMap[k] = v
		}
	}
	return out, nil
}

// =============================================================================
// PER-GROUP CASCADE
// =============================================================================

type groupResult struct {
	proposals      []commission.Proposal
	configurations []commission.SplitConfiguration
	keyMap         map[commission.NaturalKey]commission.ProposalID
}

// keyInfo is one conformant business key with its single signature.
type keyInfo struct {
	key  commission.ConfigKey
	sig  commission.ConfigSignature
	legs []commission.SplitLeg
}

func classifyGroup(group commission.GroupID, legs []commission.SplitLeg) *groupResult {
	res := &groupResult{keyMap: make(map[commission.NaturalKey]commission.ProposalID)}
	alloc := commission.NewProposalIDAllocator()

	keys := collectKeys(legs)

	// TIER 1: SIMPLE - the whole group is one structure.
	if sigs := distinctSignatures(keys); len(sigs) == 1 {
		rep := keys[0].legs[0]
		p := commission.Proposal{
			ID:            alloc.Next(group),
			Group:         group,
			EffectiveFrom: earliestDate(keys),
			LeadBroker:    rep.WritingBroker,
			Signature:     sigs[0],
			Tier:          commission.TierSimple,
		}
		res.proposals = append(res.proposals, p)
		for _, ki := range keys {
			mapKey(res.keyMap, naturalKeyOf(ki.key), p.ID)
		}
		res.buildConfigurations(legs)
		return res
	}

	remaining := make(map[commission.ConfigKey]keyInfo, len(keys))
	for _, ki := range keys {
		remaining[ki.key] = ki
	}

	res.planDifferentiated(group, alloc, remaining)
	res.yearDifferentiated(group, alloc, remaining)
	res.granular(group, alloc, remaining)
	res.consolidate()
	res.buildConfigurations(legs)
	return res
}

// -----------------------------------------------------------------------------
// TIER 2: PLAN-DIFFERENTIATED
// -----------------------------------------------------------------------------

func (res *groupResult) planDifferentiated(
	group commission.GroupID,
	alloc *commission.ProposalIDAllocator,
	remaining map[commission.ConfigKey]keyInfo,
) {
	for _, product := range sortedProducts(remaining) {
		prodKeys := keysOfProduct(remaining, product)
		if len(distinctSignatures(prodKeys)) <= 1 {
			// Single-structure products are left for consolidation.
			continue
		}
		byPlan := make(map[commission.PlanCode]map[commission.ConfigSignature]bool)
		for _, ki := range prodKeys {
			if byPlan[ki.key.Plan] == nil {
				byPlan[ki.key.Plan] = make(map[commission.ConfigSignature]bool)
			}
			byPlan[ki.key.Plan][ki.sig] = true
		}
		uniquePerPlan := true
		for _, sigs := range byPlan {
			if len(sigs) != 1 {
				uniquePerPlan = false
				break
			}
		}
		if !uniquePerPlan {
			continue
		}

		for _, plan := range sortedPlans(byPlan) {
			planKeys := keysOfPlan(prodKeys, plan)
			minYear, maxYear := yearSpan(planKeys)
			to := commission.EndOfYear(maxYear)
			rep := planKeys[0].legs[0]
			p := commission.Proposal{
				ID:            alloc.Next(group),
				Group:         group,
				Products:      []commission.ProductCode{product},
				Plans:         []commission.PlanCode{plan},
				EffectiveFrom: commission.StartOfYear(minYear),
				EffectiveTo:   &to,
				LeadBroker:    rep.WritingBroker,
				Signature:     planKeys[0].sig,
				Tier:          commission.TierPlan,
			}
			res.proposals = append(res.proposals, p)
			for _, ki := range planKeys {
				mapKey(res.keyMap, naturalKeyOf(ki.key), p.ID)
				delete(remaining, ki.key)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// TIER 3: YEAR-DIFFERENTIATED
// -----------------------------------------------------------------------------

func (res *groupResult) yearDifferentiated(
	group commission.GroupID,
	alloc *commission.ProposalIDAllocator,
	remaining map[commission.ConfigKey]keyInfo,
) {
	for _, pp := range sortedProductPlans(remaining) {
		ppKeys := keysOfProductPlan(remaining, pp.product, pp.plan)
		if len(distinctSignatures(ppKeys)) <= 1 {
			continue
		}
		byYear := make(map[int]map[commission.ConfigSignature]bool)
		for _, ki := range ppKeys {
			y := ki.key.EffectiveDate.Year()
			if byYear[y] == nil {
				byYear[y] = make(map[commission.ConfigSignature]bool)
			}
			byYear[y][ki.sig] = true
		}
		uniquePerYear := true
		for _, sigs := range byYear {
			if len(sigs) != 1 {
				uniquePerYear = false
				break
			}
		}
		if !uniquePerYear {
			continue
		}

		for _, year := range sortedYears(byYear) {
			yearKeys := keysOfYear(ppKeys, year)
			to := commission.EndOfYear(year)
			rep := yearKeys[0].legs[0]
			p := commission.Proposal{
				ID:            alloc.Next(group),
				Group:         group,
				Products:      []commission.ProductCode{pp.product},
				Plans:         []commission.PlanCode{pp.plan},
				EffectiveFrom: commission.StartOfYear(year),
				EffectiveTo:   &to,
				LeadBroker:    rep.WritingBroker,
				Signature:     yearKeys[0].sig,
				Tier:          commission.TierYear,
			}
			res.proposals = append(res.proposals, p)
			for _, ki := range yearKeys {
				mapKey(res.keyMap, naturalKeyOf(ki.key), p.ID)
				delete(remaining, ki.key)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// TIER 4: GRANULAR
// -----------------------------------------------------------------------------

// granular is the fallback grain. The conformance filter guarantees one
// signature per (group, date, product, plan); a (year, product, plan)
// triple can still see several signatures at different dates within the
// year, in which case one proposal per signature is emitted and the key
// mapping keeps the first by id.
func (res *groupResult) granular(
	group commission.GroupID,
	alloc *commission.ProposalIDAllocator,
	remaining map[commission.ConfigKey]keyInfo,
) {
	for _, triple := range sortedTriples(remaining) {
		tripleKeys := keysOfTriple(remaining, triple)
		sigs := distinctSignatures(tripleKeys)

		for _, sig := range sigs {
			var sigKeys []keyInfo
			for _, ki := range tripleKeys {
				if ki.sig == sig {
					sigKeys = append(sigKeys, ki)
				}
			}
			from := commission.StartOfYear(triple.year)
			if len(sigs) > 1 {
				from = earliestDate(sigKeys)
			}
			to := commission.EndOfYear(triple.year)
			rep := sigKeys[0].legs[0]
			p := commission.Proposal{
				ID:            alloc.Next(group),
				Group:         group,
				Products:      []commission.ProductCode{triple.product},
				Plans:         []commission.PlanCode{triple.plan},
				EffectiveFrom: from,
				EffectiveTo:   &to,
				LeadBroker:    rep.WritingBroker,
				Signature:     sig,
				Tier:          commission.TierGranular,
			}
			res.proposals = append(res.proposals, p)
			for _, ki := range sigKeys {
				mapKey(res.keyMap, naturalKeyOf(ki.key), p.ID)
				delete(remaining, ki.key)
			}
		}
	}
}

// =============================================================================
// KEY COLLECTION AND ORDERING HELPERS
// =============================================================================

func collectKeys(legs []commission.SplitLeg) []keyInfo {
	byKey := make(map[commission.ConfigKey]*keyInfo)
	var order []commission.ConfigKey
	for _, leg := range legs {
		k := leg.ConfigKey()
		if byKey[k] == nil {
			byKey[k] = &keyInfo{key: k, sig: leg.Signature}
			order = append(order, k)
		}
		byKey[k].legs = append(byKey[k].legs, leg)
	}
	sort.Slice(order, func(i, j int) bool { return configKeyLess(order[i], order[j]) })

	out := make([]keyInfo, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func configKeyLess(a, b commission.ConfigKey) bool {
	if !a.EffectiveDate.Equal(b.EffectiveDate) {
		return a.EffectiveDate.Before(b.EffectiveDate)
	}
	if a.Product != b.Product {
		return a.Product < b.Product
	}
	return a.Plan < b.Plan
}

func naturalKeyOf(k commission.ConfigKey) commission.NaturalKey {
	return commission.NaturalKey{
		Group:   k.Group,
		Year:    k.EffectiveDate.Year(),
		Product: k.Product,
		Plan:    k.Plan,
	}
}

// mapKey records a key mapping, keeping the first proposal by id when a
// key would otherwise map twice. Mappings must stay single-valued.
func mapKey(m map[commission.NaturalKey]commission.ProposalID, k commission.NaturalKey, id commission.ProposalID) {
	if existing, ok := m[k]; ok && !commission.ProposalIDLess(id, existing) {
		return
	}
	m[k] = id
}

func distinctSignatures(keys []keyInfo) []commission.ConfigSignature {
	seen := make(map[commission.ConfigSignature]bool)
	var out []commission.ConfigSignature
	for _, ki := range keys {
		if !seen[ki.sig] {
			seen[ki.sig] = true
			out = append(out, ki.sig)
		}
	}
	sortSignatures(out)
	return out
}

func earliestDate(keys []keyInfo) commission.Date {
	min := keys[0].key.EffectiveDate
	for _, ki := range keys[1:] {
		if ki.key.EffectiveDate.Before(min) {
			min = ki.key.EffectiveDate
		}
	}
	return min
}

func yearSpan(keys []keyInfo) (minYear, maxYear int) {
	minYear = keys[0].key.EffectiveDate.Year()
	maxYear = minYear
	for _, ki := range keys[1:] {
		y := ki.key.EffectiveDate.Year()
		if y < minYear {
			minYear = y
		}
		if y > maxYear {
			maxYear = y
		}
	}
	return minYear, maxYear
}

func sortedProducts(remaining map[commission.ConfigKey]keyInfo) []commission.ProductCode {
	seen := make(map[commission.ProductCode]bool)
	var out []commission.ProductCode
	for k := range remaining {
		if !seen[k.Product] {
			seen[k.Product] = true
			out = append(out, k.Product)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedPlans(byPlan map[commission.PlanCode]map[commission.ConfigSignature]bool) []commission.PlanCode {
	var out []commission.PlanCode
	for p := range byPlan {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedYears(byYear map[int]map[commission.ConfigSignature]bool) []int {
	var out []int
	for y := range byYear {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

type productPlan struct {
	product commission.ProductCode
	plan    commission.PlanCode
}

func sortedProductPlans(remaining map[commission.ConfigKey]keyInfo) []productPlan {
	seen := make(map[productPlan]bool)
	var out []productPlan
	for k := range remaining {
		pp := productPlan{product: k.Product, plan: k.Plan}
		if !seen[pp] {
			seen[pp] = true
			out = append(out, pp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].product != out[j].product {
			return out[i].product < out[j].product
		}
		return out[i].plan < out[j].plan
	})
	return out
}

type yearProductPlan struct {
	year    int
	product commission.ProductCode
	plan    commission.PlanCode
}

func sortedTriples(remaining map[commission.ConfigKey]keyInfo) []yearProductPlan {
	seen := make(map[yearProductPlan]bool)
	var out []yearProductPlan
	for k := range remaining {
		t := yearProductPlan{year: k.EffectiveDate.Year(), product: k.Product, plan: k.Plan}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].year != out[j].year {
			return out[i].year < out[j].year
		}
		if out[i].product != out[j].product {
			return out[i].product < out[j].product
		}
		return out[i].plan < out[j].plan
	})
	return out
}

func keysOfProduct(remaining map[commission.ConfigKey]keyInfo, product commission.ProductCode) []keyInfo {
	var out []keyInfo
	for _, ki := range remaining {
		if ki.key.Product == product {
			out = append(out, ki)
		}
	}
	sortKeyInfos(out)
	return out
}

func keysOfPlan(keys []keyInfo, plan commission.PlanCode) []keyInfo {
	var out []keyInfo
	for _, ki := range keys {
		if ki.key.Plan == plan {
			out = append(out, ki)
		}
	}
	sortKeyInfos(out)
	return out
}

func keysOfProductPlan(remaining map[commission.ConfigKey]keyInfo, product commission.ProductCode, plan commission.PlanCode) []keyInfo {
	var out []keyInfo
	for _, ki := range remaining {
		if ki.key.Product == product && ki.key.Plan == plan {
			out = append(out, ki)
		}
	}
	sortKeyInfos(out)
	return out
}

func keysOfTriple(remaining map[commission.ConfigKey]keyInfo, t yearProductPlan) []keyInfo {
	var out []keyInfo
	for _, ki := range remaining {
		if ki.key.EffectiveDate.Year() == t.year && ki.key.Product == t.product && ki.key.Plan == t.plan {
			out = append(out, ki)
		}
	}
	sortKeyInfos(out)
	return out
}

func keysOfYear(keys []keyInfo, year int) []keyInfo {
	var out []keyInfo
	for _, ki := range keys {
		if ki.key.EffectiveDate.Year() == year {
			out = append(out, ki)
		}
	}
	sortKeyInfos(out)
	return out
}

func sortKeyInfos(keys []keyInfo) {
	sort.Slice(keys, func(i, j int) bool { return configKeyLess(keys[i].key, keys[j].key) })
}

// =============================================================================
// SPLIT CONFIGURATIONS
// =============================================================================

// buildConfigurations emits one premium split version per proposal from
// the legs its keys resolved to: one participant per observed split
// sequence, carrying the writing broker's share.
func (res *groupResult) buildConfigurations(legs []commission.SplitLeg) {
	legsByProposal := make(map[commission.ProposalID][]commission.SplitLeg)
	for _, leg := range legs {
		if id, ok := res.keyMap[leg.NaturalKey()]; ok {
			legsByProposal[id] = append(legsByProposal[id], leg)
		}
	}

	sort.Slice(res.proposals, func(i, j int) bool {
		return commission.ProposalIDLess(res.proposals[i].ID, res.proposals[j].ID)
	})

	for _, p := range res.proposals {
		pLegs := legsByProposal[p.ID]
		if len(pLegs) == 0 {
			continue
		}
		bySeq := make(map[int]commission.SplitLeg)
		var seqs []int
		for _, leg := range pLegs {
			if _, seen := bySeq[leg.Sequence]; !seen {
				bySeq[leg.Sequence] = leg
				seqs = append(seqs, leg.Sequence)
			}
		}
		sort.Ints(seqs)

		cfg := commission.SplitConfiguration{Proposal: p.ID, Version: 1}
		for _, seq := range seqs {
			rep := bySeq[seq]
			cfg.Participants = append(cfg.Participants, commission.SplitParticipant{
				Broker:   rep.WritingBroker,
				Percent:  rep.Participants[0].Percent,
				Sequence: seq,
			})
		}
		res.configurations = append(res.configurations, cfg)
	}
}
