package hierarchy_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/hierarchy"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(y int, m time.Month, day int) commission.Date { return commission.NewDate(y, m, day) }

func datePtr(dt commission.Date) *commission.Date { return &dt }

func leg(cert, group string, date commission.Date, product, plan, state string, seq int, participants []commission.Participant) commission.SplitLeg {
	return commission.SplitLeg{
		Certificate:   commission.CertificateID(cert),
		Group:         commission.GroupID(group),
		EffectiveDate: date,
		Product:       commission.ProductCode(product),
		Plan:          commission.PlanCode(plan),
		Sequence:      seq,
		State:         state,
		WritingBroker: participants[0].Broker,
		Participants:  participants,
		Signature:     commission.ComputeSignature(participants),
	}
}

func twoLevel() []commission.Participant {
	return []commission.Participant{
		{Level: 1, Broker: "BRK-1", Percent: decimal.NewFromInt(70), Schedule: "SCH-A"},
		{Level: 2, Broker: "BRK-2", Percent: decimal.NewFromInt(30), Schedule: "SCH-B"},
	}
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestBuild_OneHierarchyPerTriple(t *testing.T) {
	// GIVEN: One group, two split sequences with the same chain
	legs := []commission.SplitLeg{
		leg("C1", "G100", d(2023, time.February, 1), "A", "GOLD", "TX", 1, twoLevel()),
		leg("C1", "G100", d(2023, time.February, 1), "A", "GOLD", "TX", 2, twoLevel()),
	}
	proposals := []commission.Proposal{{
		ID:            "PROP-G100-001",
		Group:         "G100",
		EffectiveFrom: d(2023, time.January, 1),
	}}

	hs, err := hierarchy.Build(legs, proposals, 1)
	require.NoError(t, err)

	// THEN: Two hierarchies, never deduplicated across sequences
	require.Len(t, hs, 2)
	assert.Equal(t, hs[0].Signature, hs[1].Signature)
	assert.NotEqual(t, hs[0].ID, hs[1].ID)
	assert.Equal(t, 1, hs[0].Sequence)
	assert.Equal(t, 2, hs[1].Sequence)
	for _, h := range hs {
		assert.Equal(t, commission.ProposalID("PROP-G100-001"), h.Proposal)
		require.Len(t, h.Version.Participants, 2)
		assert.Equal(t, commission.BrokerID("BRK-1"), h.Version.Participants[0].Broker)
	}
}

func TestBuild_SkipsGroupsWithoutProposals(t *testing.T) {
	legs := []commission.SplitLeg{
		leg("C1", "G900", d(2023, time.February, 1), "A", "GOLD", "TX", 1, twoLevel()),
	}

	hs, err := hierarchy.Build(legs, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, hs)
}

// =============================================================================
// PROPOSAL MATCH TIERS
// =============================================================================

func TestBuild_MatchTiers(t *testing.T) {
	proposals := []commission.Proposal{
		{ID: "PROP-G1-001", Group: "G1", EffectiveFrom: d(2023, time.January, 1), EffectiveTo: datePtr(d(2023, time.December, 31))},
		{ID: "PROP-G1-002", Group: "G1", EffectiveFrom: d(2024, time.January, 1)},
	}

	cases := []struct {
		name string
		date commission.Date
		want commission.ProposalID
	}{
		// Tier a: inside the 2023 closed range
		{"closed range", d(2023, time.June, 1), "PROP-G1-001"},
		// Tier b: open-ended proposal in force
		{"open ended", d(2024, time.July, 1), "PROP-G1-002"},
		// Tier c: before everything - most recently started wins
		{"fallback", d(2022, time.March, 1), "PROP-G1-002"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			legs := []commission.SplitLeg{
				leg("C1", "G1", tc.date, "A", "GOLD", "TX", 1, twoLevel()),
			}
			hs, err := hierarchy.Build(legs, proposals, 1)
			require.NoError(t, err)
			require.Len(t, hs, 1)
			assert.Equal(t, tc.want, hs[0].Proposal)
		})
	}
}

// =============================================================================
// STATE RULES
// =============================================================================

func TestBuild_SingleJurisdictionCollapsesToCatchAll(t *testing.T) {
	// GIVEN: Certificates observed only in TX
	legs := []commission.SplitLeg{
		leg("C1", "G1", d(2023, time.February, 1), "A", "GOLD", "TX", 1, twoLevel()),
		leg("C2", "G1", d(2023, time.March, 1), "B", "GOLD", "TX", 1, twoLevel()),
	}
	proposals := []commission.Proposal{{ID: "PROP-G1-001", Group: "G1", EffectiveFrom: d(2023, time.January, 1)}}

	hs, err := hierarchy.Build(legs, proposals, 1)
	require.NoError(t, err)
	require.Len(t, hs, 1)

	rules := hs[0].Version.Rules.Rules
	require.Len(t, rules, 1)
	assert.True(t, rules[0].CatchAll)
	assert.Empty(t, rules[0].State)

	// Every observed product attaches to the catch-all.
	require.Len(t, rules[0].Splits, 2)
	assert.Equal(t, commission.ProductCode("A"), rules[0].Splits[0].Product)
	assert.Equal(t, commission.ProductCode("B"), rules[0].Splits[1].Product)
}

func TestBuild_MultipleJurisdictionsGetPerStateRules(t *testing.T) {
	legs := []commission.SplitLeg{
		leg("C1", "G1", d(2023, time.February, 1), "A", "GOLD", "TX", 1, twoLevel()),
		leg("C2", "G1", d(2023, time.March, 1), "A", "GOLD", "CA", 1, twoLevel()),
	}
	proposals := []commission.Proposal{{ID: "PROP-G1-001", Group: "G1", EffectiveFrom: d(2023, time.January, 1)}}

	hs, err := hierarchy.Build(legs, proposals, 1)
	require.NoError(t, err)
	require.Len(t, hs, 1)

	rules := hs[0].Version.Rules.Rules
	require.Len(t, rules, 2)
	assert.Equal(t, "CA", rules[0].State)
	assert.Equal(t, "TX", rules[1].State)
	assert.False(t, hs[0].Version.Rules.HasCatchAll())
}

// =============================================================================
// DISTRIBUTIONS
// =============================================================================

func TestBuild_DistributionsCarryConfiguredPercents(t *testing.T) {
	legs := []commission.SplitLeg{
		leg("C1", "G1", d(2023, time.February, 1), "A", "GOLD", "TX", 1, twoLevel()),
	}
	proposals := []commission.Proposal{{ID: "PROP-G1-001", Group: "G1", EffectiveFrom: d(2023, time.January, 1)}}

	hs, err := hierarchy.Build(legs, proposals, 1)
	require.NoError(t, err)

	dist := hs[0].Version.Rules.Rules[0].Splits[0].Distributions
	require.Len(t, dist, 2)
	assert.True(t, dist[0].Percent.Equal(decimal.NewFromInt(70)))
	assert.True(t, dist[1].Percent.Equal(decimal.NewFromInt(30)))
}

func TestBuild_EqualSplitFallbackWhenNoExplicitPercent(t *testing.T) {
	// GIVEN: A chain with no configured percentages at all
	ps := []commission.Participant{
		{Level: 1, Broker: "BRK-1", Percent: decimal.Zero},
		{Level: 2, Broker: "BRK-2", Percent: decimal.Zero},
	}
	legs := []commission.SplitLeg{
		leg("C1", "G1", d(2023, time.February, 1), "A", "GOLD", "TX", 1, ps),
	}
	proposals := []commission.Proposal{{ID: "PROP-G1-001", Group: "G1", EffectiveFrom: d(2023, time.January, 1)}}

	hs, err := hierarchy.Build(legs, proposals, 1)
	require.NoError(t, err)

	dist := hs[0].Version.Rules.Rules[0].Splits[0].Distributions
	require.Len(t, dist, 2)
	assert.True(t, dist[0].Percent.Equal(decimal.NewFromInt(50)))
	assert.True(t, dist[1].Percent.Equal(decimal.NewFromInt(50)))
}

// =============================================================================
// CONFIGURATION LINKING
// =============================================================================

func TestLinkConfigurations(t *testing.T) {
	proposals := []commission.Proposal{{ID: "PROP-G1-001", Group: "G1", EffectiveFrom: d(2023, time.January, 1)}}
	legs := []commission.SplitLeg{
		leg("C1", "G1", d(2023, time.February, 1), "A", "GOLD", "TX", 1, twoLevel()),
	}
	hs, err := hierarchy.Build(legs, proposals, 1)
	require.NoError(t, err)

	configs := []commission.SplitConfiguration{{
		Proposal: "PROP-G1-001",
		Version:  1,
		Participants: []commission.SplitParticipant{
			{Broker: "BRK-1", Percent: decimal.NewFromInt(70), Sequence: 1},
		},
	}}

	hierarchy.LinkConfigurations(configs, proposals, hs)

	assert.Equal(t, hs[0].ID, configs[0].Participants[0].Hierarchy)
}
