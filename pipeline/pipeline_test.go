package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/pipeline"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

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
		State:         state,
	}
}

func brokers(ids ...string) []commission.Broker {
	var out []commission.Broker
	for _, id := range ids {
		out = append(out, commission.Broker{ID: commission.BrokerID(id), Name: id})
	}
	return out
}

// snapshot builds a small but complete book of business:
//   - G100: one signature across the whole group (simple tier)
//   - G200: same structure, different percents per year (year tier)
//   - G300: one certificate whose key carries two signatures across its
//     own split sequences (flagged non-conformant)
//   - one no-group certificate
func snapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		Brokers: brokers("BRK-1", "BRK-2", "BRK-3"),
		Records: []commission.CertificateSplitRecord{
			// G100
			row("C100", "G100", "2023-02-01", "A", "GOLD", 1, 1, "BRK-1", 70, "TX"),
			row("C100", "G100", "2023-02-01", "A", "GOLD", 1, 2, "BRK-2", 30, "TX"),
			row("C101", "G100", "2023-05-01", "B", "GOLD", 1, 1, "BRK-1", 70, "TX"),
			row("C101", "G100", "2023-05-01", "B", "GOLD", 1, 2, "BRK-2", 30, "TX"),

			// G200: 2022 is 60/40, 2023 is 70/30
			row("C200", "G200", "2022-03-01", "A", "GOLD", 1, 1, "BRK-1", 60, "CA"),
			row("C200", "G200", "2022-03-01", "A", "GOLD", 1, 2, "BRK-2", 40, "CA"),
			row("C201", "G200", "2023-03-01", "A", "GOLD", 1, 1, "BRK-1", 70, "CA"),
			row("C201", "G200", "2023-03-01", "A", "GOLD", 1, 2, "BRK-2", 30, "CA"),

			// G300: sequences disagree at the same business key
			row("C300", "G300", "2023-04-01", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"),
			row("C300", "G300", "2023-04-01", "A", "GOLD", 2, 1, "BRK-3", 100, "TX"),

			// No group
			row("C900", "", "2023-06-01", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"),
		},
	}
}

func run(t *testing.T, snap pipeline.Snapshot) *pipeline.Results {
	t.Helper()
	eng := pipeline.New(pipeline.Config{Workers: 2})
	res, err := eng.Run(context.Background(), snap)
	require.NoError(t, err)
	return res
}

// =============================================================================
// END TO END
// =============================================================================

func TestRun_EndToEnd(t *testing.T) {
	res := run(t, snapshot())

	// G100 collapses to one open-ended proposal; G200 splits by year.
	var g100, g200 int
	for _, p := range res.Proposals {
		switch p.Group {
		case "G100":
			g100++
		case "G200":
			g200++
		}
	}
	assert.Equal(t, 1, g100)
	assert.Equal(t, 2, g200)

	// G300 is flagged: no proposals, only exceptions.
	for _, p := range res.Proposals {
		assert.NotEqual(t, commission.GroupID("G300"), p.Group)
	}

	// Every conformant certificate got exactly one assignment.
	certs := make(map[commission.CertificateID]int)
	for _, a := range res.Assignments {
		certs[a.Certificate]++
	}
	for _, c := range []string{"C100", "C101", "C200", "C201"} {
		assert.Equal(t, 1, certs[commission.CertificateID(c)], c)
	}

	// The flagged and no-group certificates land in exceptions, once each.
	reasons := make(map[commission.CertificateID]commission.ExceptionReason)
	for _, x := range res.Exceptions {
		_, dup := reasons[x.Certificate]
		require.False(t, dup, "certificate routed twice: %s", x.Certificate)
		reasons[x.Certificate] = x.Reason
	}
	assert.Equal(t, commission.ReasonNoGroup, reasons["C900"])
	assert.Equal(t, commission.ReasonNonConformant, reasons["C300"])

	// Clean groups audit conformant; the flagged group is classified,
	// not dropped. No-group business never becomes a group record.
	classes := make(map[commission.GroupID]commission.ConformanceClass)
	for _, rec := range res.Conformance {
		classes[rec.Group] = rec.Class
	}
	assert.Equal(t, commission.Conformant, classes["G100"])
	assert.Equal(t, commission.Conformant, classes["G200"])
	assert.Equal(t, commission.NonConformant, classes["G300"])
	assert.NotContains(t, classes, commission.GroupNone)

	// Seven stage lines in the report.
	require.NotNil(t, res.Report)
	assert.Len(t, res.Report.Stages, 7)
}

func TestRun_CoverageProperty(t *testing.T) {
	// Every certificate ends up with exactly one owner: an assignment
	// or an exception record, never both, never neither.
	res := run(t, snapshot())

	owned := make(map[commission.CertificateID]int)
	for _, a := range res.Assignments {
		owned[a.Certificate]++
	}
	for _, x := range res.Exceptions {
		owned[x.Certificate]++
	}

	seen := make(map[commission.CertificateID]bool)
	for _, l := range res.Legs {
		if seen[l.Certificate] {
			continue
		}
		seen[l.Certificate] = true
		assert.Equal(t, 1, owned[l.Certificate], "certificate %s", l.Certificate)
	}
}

func TestRun_Idempotent(t *testing.T) {
	a := run(t, snapshot())
	b := run(t, snapshot())

	assert.Equal(t, a.Proposals, b.Proposals)
	assert.Equal(t, a.KeyMap, b.KeyMap)
	assert.Equal(t, a.Hierarchies, b.Hierarchies)
	assert.Equal(t, a.Assignments, b.Assignments)
	assert.Equal(t, a.Exceptions, b.Exceptions)
	assert.Equal(t, a.Conformance, b.Conformance)
}

// =============================================================================
// FAILURE SEMANTICS
// =============================================================================

func TestRun_BadDateAbortsExtractStage(t *testing.T) {
	snap := snapshot()
	snap.Records = append(snap.Records,
		row("C999", "G100", "not-a-date", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"))

	eng := pipeline.New(pipeline.Config{})
	_, err := eng.Run(context.Background(), snap)

	require.Error(t, err)
	assert.True(t, errors.Is(err, commission.ErrStageFailed))
	assert.True(t, errors.Is(err, commission.ErrBadDate))

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "extract", se.Stage)
}

func TestRun_FailedRunLeavesPublishedResultsIntact(t *testing.T) {
	eng := pipeline.New(pipeline.Config{})

	good, err := eng.Run(context.Background(), snapshot())
	require.NoError(t, err)
	require.Same(t, good, eng.Current())

	bad := snapshot()
	bad.Records = append(bad.Records,
		row("C999", "G100", "garbage", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"))
	_, err = eng.Run(context.Background(), bad)
	require.Error(t, err)

	assert.Same(t, good, eng.Current(), "a failed run must not replace published results")
}

func TestRun_PercentSumCertificateIsExceptionRouted(t *testing.T) {
	snap := snapshot()
	snap.Records = append(snap.Records,
		row("C500", "G500", "2023-01-15", "A", "GOLD", 1, 1, "BRK-1", 80, "TX"),
		row("C500", "G500", "2023-01-15", "A", "GOLD", 1, 2, "BRK-2", 30, "TX"))

	res := run(t, snap)

	for _, a := range res.Assignments {
		assert.NotEqual(t, commission.CertificateID("C500"), a.Certificate)
	}
	var found *commission.PolicyHierarchyAssignment
	for i := range res.Exceptions {
		if res.Exceptions[i].Certificate == "C500" {
			found = &res.Exceptions[i]
		}
	}
	require.NotNil(t, found, "bad percent sums must reach the exception output")
	assert.Equal(t, commission.ReasonUnresolved, found.Reason)

	// The original 80/30 structure is carried verbatim.
	require.Len(t, found.Participants, 2)
	assert.True(t, found.Participants[0].Percent.Equal(decimal.NewFromInt(80)))
	assert.True(t, found.Participants[1].Percent.Equal(decimal.NewFromInt(30)))
}

// =============================================================================
// CONFORMANCE ROLL-UP
// =============================================================================

func TestRun_ConformanceCountsFlaggedCertificates(t *testing.T) {
	// GIVEN a group with one clean certificate and one whose key carries
	// two signatures across its own split sequences, in a year no
	// proposal reaches
	snap := snapshot()
	snap.Records = append(snap.Records,
		row("C400", "G400", "2023-02-01", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"),
		row("C401", "G400", "2021-04-01", "A", "GOLD", 1, 1, "BRK-1", 100, "TX"),
		row("C401", "G400", "2021-04-01", "A", "GOLD", 2, 1, "BRK-3", 100, "TX"))

	res := run(t, snap)

	// THEN the roll-up counts both certificates, not only the clean one.
	var rec *commission.ConformanceRecord
	for i := range res.Conformance {
		if res.Conformance[i].Group == "G400" {
			rec = &res.Conformance[i]
		}
	}
	require.NotNil(t, rec, "mixed group must have a conformance record")
	assert.Equal(t, 2, rec.Total)
	assert.Equal(t, 1, rec.Resolved)
	assert.Equal(t, commission.NonConformant, rec.Class)
}

func TestRun_FullyFlaggedGroupGetsConformanceRecord(t *testing.T) {
	// G300's only certificate is flagged; the group still rolls up for
	// the export gate instead of vanishing from the report.
	res := run(t, snapshot())

	var rec *commission.ConformanceRecord
	for i := range res.Conformance {
		if res.Conformance[i].Group == "G300" {
			rec = &res.Conformance[i]
		}
	}
	require.NotNil(t, rec, "flagged group missing from conformance output")
	assert.Equal(t, 1, rec.Total)
	assert.Equal(t, 0, rec.Resolved)
	assert.Equal(t, commission.NonConformant, rec.Class)
	assert.True(t, rec.Percentage.IsZero())
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := pipeline.New(pipeline.Config{})
	_, err := eng.Run(ctx, snapshot())

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
