package sqlite_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/pipeline"
	"github.com/warp/commission-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func row(cert, group, date, product, plan string, seq, level int, broker string, percent int64, state string) commission.CertificateSplitRecord {
	return commission.CertificateSplitRecord{
		CertificateID: commission.CertificateID(cert),
		GroupID:       group,
		EffectiveDate: date,
		Product:       commission.ProductCode(product),
		Plan:          plan,
		SplitSequence: seq,
		Level:         level,
		Broker:        commission.BrokerID(broker),
		SplitPercent:  decimal.NewFromInt(percent),
		Schedule:      "SCH-A",
		State:         state,
	}
}

func snapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Brokers: []commission.Broker{
			{ID: "BRK-1", ExternalID: "X1", Name: "Alpha"},
			{ID: "BRK-2", ExternalID: "X2", Name: "Beta"},
		},
		Records: []commission.CertificateSplitRecord{
			row("C1", "G1", "2023-02-01", "A", "GOLD", 1, 1, "BRK-1", 70, "TX"),
			row("C1", "G1", "2023-02-01", "A", "GOLD", 1, 2, "BRK-2", 30, "TX"),
			row("C2", "G1", "2023-05-01", "B", "GOLD", 1, 1, "BRK-1", 70, "TX"),
			row("C2", "G1", "2023-05-01", "B", "GOLD", 1, 2, "BRK-2", 30, "TX"),
			row("C9", "", "2023-06-01", "A", "GOLD", 1, 1, "BRK-1", 100, "CA"),
		},
	}
}

func runPipeline(t *testing.T, snap pipeline.Snapshot) *pipeline.Results {
	t.Helper()
	res, err := pipeline.New(pipeline.Config{}).Run(context.Background(), snap)
	require.NoError(t, err)
	return res
}

// =============================================================================
// SNAPSHOT ROUND TRIP
// =============================================================================

func TestSnapshotRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, snapshot()))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot().Records, loaded.Records)
	assert.Equal(t, snapshot().Brokers, loaded.Brokers)
}

func TestSaveSnapshot_ReplacesPrevious(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, snapshot()))

	smaller := pipeline.Snapshot{
		Records: []commission.CertificateSplitRecord{
			row("C1", "G1", "2023-02-01", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"),
		},
	}
	require.NoError(t, s.SaveSnapshot(ctx, smaller))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Records, 1)
	assert.Empty(t, loaded.Brokers)
}

// =============================================================================
// RUN OUTPUT ROUND TRIP
// =============================================================================

func TestSaveRun_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	res := runPipeline(t, snapshot())

	require.NoError(t, s.SaveRun(ctx, res))

	proposals, err := s.LoadProposals(ctx, "")
	require.NoError(t, err)
	require.Len(t, proposals, len(res.Proposals))
	for i, p := range res.Proposals {
		assert.Equal(t, p.ID, proposals[i].ID)
		assert.Equal(t, p.Group, proposals[i].Group)
		assert.Equal(t, p.EffectiveFrom, proposals[i].EffectiveFrom)
		assert.Equal(t, p.EffectiveTo, proposals[i].EffectiveTo)
		assert.Equal(t, p.Products, proposals[i].Products)
		assert.Equal(t, p.Plans, proposals[i].Plans)
		assert.Equal(t, p.Signature, proposals[i].Signature)
		assert.Equal(t, p.Tier, proposals[i].Tier)
	}

	hierarchies, err := s.LoadHierarchies(ctx)
	require.NoError(t, err)
	require.Len(t, hierarchies, len(res.Hierarchies))
	for i, h := range res.Hierarchies {
		assert.Equal(t, h.ID, hierarchies[i].ID)
		assert.Equal(t, h.Proposal, hierarchies[i].Proposal)
		assert.Equal(t, h.RepresentativeDate, hierarchies[i].RepresentativeDate)
		require.Len(t, hierarchies[i].Version.Participants, len(h.Version.Participants))
		require.Len(t, hierarchies[i].Version.Rules.Rules, len(h.Version.Rules.Rules))
		assert.True(t, hierarchies[i].Version.Participants[0].Rate.Equal(h.Version.Participants[0].Rate))
	}

	assignments, err := s.LoadAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Assignments, assignments)

	exceptions, err := s.LoadExceptions(ctx)
	require.NoError(t, err)
	require.Len(t, exceptions, len(res.Exceptions))
	assert.Equal(t, res.Exceptions[0].Certificate, exceptions[0].Certificate)
	assert.Equal(t, res.Exceptions[0].Reason, exceptions[0].Reason)
	require.Len(t, exceptions[0].Participants, len(res.Exceptions[0].Participants))

	conformance, err := s.LoadConformance(ctx)
	require.NoError(t, err)
	require.Len(t, conformance, len(res.Conformance))
	assert.Equal(t, res.Conformance[0].Group, conformance[0].Group)
	assert.Equal(t, res.Conformance[0].Class, conformance[0].Class)
	assert.True(t, res.Conformance[0].Percentage.Equal(conformance[0].Percentage))
}

func TestSaveRun_ReplacesPreviousRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, runPipeline(t, snapshot())))

	// A second run over a smaller book replaces everything.
	small := pipeline.Snapshot{
		Records: []commission.CertificateSplitRecord{
			row("C1", "G1", "2023-02-01", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"),
		},
	}
	require.NoError(t, s.SaveRun(ctx, runPipeline(t, small)))

	assignments, err := s.LoadAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, commission.CertificateID("C1"), assignments[0].Certificate)

	exceptions, err := s.LoadExceptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, exceptions)
}

func TestLoadProposals_FilterByGroup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	snap := snapshot()
	snap.Records = append(snap.Records,
		row("C3", "G2", "2023-03-01", "A", "GOLD", 1, 1, "BRK-1", 100, "CA"))
	require.NoError(t, s.SaveRun(ctx, runPipeline(t, snap)))

	g2, err := s.LoadProposals(ctx, "G2")
	require.NoError(t, err)
	require.Len(t, g2, 1)
	assert.Equal(t, commission.GroupID("G2"), g2[0].Group)
}

func TestLoadConfigurations_GroupsByProposal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	res := runPipeline(t, snapshot())

	require.NoError(t, s.SaveRun(ctx, res))

	configs, err := s.LoadConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, configs, len(res.Configurations))
	for i, c := range res.Configurations {
		assert.Equal(t, c.Proposal, configs[i].Proposal)
		require.Len(t, configs[i].Participants, len(c.Participants))
		assert.Equal(t, c.Participants[0].Hierarchy, configs[i].Participants[0].Hierarchy)
	}
}
