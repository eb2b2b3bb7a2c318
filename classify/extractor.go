/*
Package classify turns raw per-certificate broker-split rows into the
minimal set of shared proposals.

PURPOSE:
  This package implements the first half of the resolution engine:

  1. Extractor:   raw rows -> ordered split legs with signatures
  2. Filter:      conformant vs non-conformant business keys
  3. Classifier:  the five-tier cascade (simple -> plan -> year ->
                  granular -> consolidated) producing proposals and the
                  natural-key mapping
  4. Normalizer:  closes gaps/overlaps so each group's proposals form a
                  contiguous timeline

  Everything here is a pure transformation: same snapshot in, same
  proposals and key mapping out, byte for byte.

KEY CONCEPTS IN THIS FILE (extractor.go):
  - Rows sharing (certificate, split-sequence) collapse into one
    SplitLeg with its participant chain ordered by level
  - The writing broker is the lowest-level participant
  - Data-integrity findings (percent sums, unknown brokers) are
    collected as warnings, never silently dropped and never fatal
  - An unparseable effective date IS fatal: grouping depends on it

SEE ALSO:
  - filter.go: conformance partitioning over the extracted legs
  - classifier.go: the cascade itself
*/
package classify

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// EXTRACTION - raw rows to ordered split legs
// =============================================================================

// Extraction is the output of the extractor stage.
type Extraction struct {
	Legs []commission.SplitLeg

	// Warnings are data-integrity findings: percent sums off 100 and
	// broker references missing from the master list.
	Warnings []error
}

// Extractor normalizes raw split rows into legs. Brokers is the master
// list used for reference validation; nil disables the check.
type Extractor struct {
	Brokers map[commission.BrokerID]commission.Broker
}

// Extract reshapes raw rows into ordered split legs.
// Returns a fatal error (wrapping ErrBadDate) if any row's effective
// date cannot be parsed; no partial output is produced in that case.
func (e *Extractor) Extract(records []commission.CertificateSplitRecord) (*Extraction, error) {
	type legKey struct {
		cert commission.CertificateID
		seq  int
	}

	byLeg := make(map[legKey][]commission.CertificateSplitRecord)
	var order []legKey
	for _, rec := range records {
		k := legKey{cert: rec.CertificateID, seq: rec.SplitSequence}
		if _, seen := byLeg[k]; !seen {
			order = append(order, k)
		}
		byLeg[k] = append(byLeg[k], rec)
	}

	// Canonical leg order: certificate, then sequence. Input row order
	// must not leak into any downstream result.
	sort.Slice(order, func(i, j int) bool {
		if order[i].cert != order[j].cert {
			return order[i].cert < order[j].cert
		}
		return order[i].seq < order[j].seq
	})

	out := &Extraction{}
	hundred := decimal.NewFromInt(100)

	for _, k := range order {
		rows := byLeg[k]
		head := rows[0]

		date, err := commission.ParseDate(head.EffectiveDate)
		if err != nil {
			return nil, fmt.Errorf("certificate %s seq %d: %w", k.cert, k.seq, err)
		}

		leg := commission.SplitLeg{
			Certificate:   k.cert,
			Group:         commission.NormalizeGroup(head.GroupID),
			EffectiveDate: date,
			Product:       head.Product,
			Plan:          commission.NormalizePlan(head.Plan),
			Sequence:      k.seq,
			State:         head.State,
		}

		for _, row := range rows {
			leg.Participants = append(leg.Participants, commission.Participant{
				Level:    row.Level,
				Broker:   row.Broker,
				Percent:  row.SplitPercent,
				Schedule: row.Schedule,
			})
			if e.Brokers != nil && row.Broker != commission.BrokerDirect {
				if _, ok := e.Brokers[row.Broker]; !ok {
					out.Warnings = append(out.Warnings, &commission.MissingBrokerError{
						Broker:      row.Broker,
						Certificate: k.cert,
					})
				}
			}
		}

		commission.SortParticipants(leg.Participants)
		leg.WritingBroker = leg.Participants[0].Broker
		leg.Signature = commission.ComputeSignature(leg.Participants)

		if !leg.PercentSum().Equal(hundred) {
			out.Warnings = append(out.Warnings, &commission.PercentSumError{
				Certificate: leg.Certificate,
				Group:       leg.Group,
				Sequence:    leg.Sequence,
				Sum:         leg.PercentSum(),
			})
		}

		out.Legs = append(out.Legs, leg)
	}

	return out, nil
}
