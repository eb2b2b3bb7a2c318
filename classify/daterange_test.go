package classify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/classify"
	"github.com/warp/commission-engine/commission"
)

func proposal(id, group string, from commission.Date, to *commission.Date) commission.Proposal {
	return commission.Proposal{
		ID:            commission.ProposalID(id),
		Group:         commission.GroupID(group),
		EffectiveFrom: from,
		EffectiveTo:   to,
		Tier:          commission.TierGranular,
	}
}

func datePtr(d commission.Date) *commission.Date { return &d }

func TestNormalizeDateRanges_ClosesGapsAndOverlaps(t *testing.T) {
	// GIVEN: Proposals with a gap (P1->P2) and an overlap (P2->P3)
	ps := []commission.Proposal{
		proposal("P1", "G1", d(2022, time.January, 1), datePtr(d(2022, time.June, 30))),
		proposal("P2", "G1", d(2023, time.January, 1), datePtr(d(2024, time.March, 31))),
		proposal("P3", "G1", d(2024, time.January, 1), nil),
	}

	out := classify.NormalizeDateRanges(ps)

	require.NotNil(t, out[0].EffectiveTo)
	assert.Equal(t, d(2022, time.December, 31), *out[0].EffectiveTo)
	require.NotNil(t, out[1].EffectiveTo)
	assert.Equal(t, d(2023, time.December, 31), *out[1].EffectiveTo)
	assert.Nil(t, out[2].EffectiveTo, "the last proposal keeps its open end")

	assert.Empty(t, classify.VerifyContiguity(out))
}

func TestNormalizeDateRanges_GroupsIndependent(t *testing.T) {
	ps := []commission.Proposal{
		proposal("P1", "G1", d(2023, time.January, 1), nil),
		proposal("P2", "G2", d(2024, time.January, 1), nil),
	}

	out := classify.NormalizeDateRanges(ps)

	// A successor in another group must not clip an open-ended proposal.
	assert.Nil(t, out[0].EffectiveTo)
	assert.Nil(t, out[1].EffectiveTo)
}

func TestVerifyContiguity_ReportsGap(t *testing.T) {
	ps := []commission.Proposal{
		proposal("P1", "G1", d(2022, time.January, 1), datePtr(d(2022, time.June, 30))),
		proposal("P2", "G1", d(2023, time.January, 1), nil),
	}

	violations := classify.VerifyContiguity(ps)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Error(), "gap")
}

func TestNormalizeDateRanges_ParallelStartsShareSuccessor(t *testing.T) {
	// Plan-differentiated proposals start the same day; both are clipped
	// to the next distinct start.
	ps := []commission.Proposal{
		proposal("P1", "G1", d(2023, time.January, 1), nil),
		proposal("P2", "G1", d(2023, time.January, 1), nil),
		proposal("P3", "G1", d(2024, time.January, 1), nil),
	}

	out := classify.NormalizeDateRanges(ps)

	require.NotNil(t, out[0].EffectiveTo)
	require.NotNil(t, out[1].EffectiveTo)
	assert.Equal(t, d(2023, time.December, 31), *out[0].EffectiveTo)
	assert.Equal(t, d(2023, time.December, 31), *out[1].EffectiveTo)
	assert.Empty(t, classify.VerifyContiguity(out))
}
