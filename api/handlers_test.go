package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/pipeline"
)

// =============================================================================
// IN-MEMORY SOURCE
// =============================================================================

type memSource struct {
	proposals   []commission.Proposal
	configs     []commission.SplitConfiguration
	hierarchies []commission.Hierarchy
	assignments []commission.PolicyAssignment
	exceptions  []commission.PolicyHierarchyAssignment
	conformance []commission.ConformanceRecord
}

func (m *memSource) LoadProposals(_ context.Context, group commission.GroupID) ([]commission.Proposal, error) {
	if group == "" {
		return m.proposals, nil
	}
	var out []commission.Proposal
	for _, p := range m.proposals {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memSource) LoadConfigurations(context.Context) ([]commission.SplitConfiguration, error) {
	return m.configs, nil
}

func (m *memSource) LoadHierarchies(context.Context) ([]commission.Hierarchy, error) {
	return m.hierarchies, nil
}

func (m *memSource) LoadAssignments(context.Context) ([]commission.PolicyAssignment, error) {
	return m.assignments, nil
}

func (m *memSource) LoadExceptions(context.Context) ([]commission.PolicyHierarchyAssignment, error) {
	return m.exceptions, nil
}

func (m *memSource) LoadConformance(context.Context) ([]commission.ConformanceRecord, error) {
	return m.conformance, nil
}

func fixtureSource() *memSource {
	to := commission.NewDate(2023, time.December, 31)
	return &memSource{
		proposals: []commission.Proposal{
			{
				ID:            "PROP-G100-001",
				Group:         "G100",
				EffectiveFrom: commission.NewDate(2023, time.January, 1),
				EffectiveTo:   &to,
				LeadBroker:    "BRK-1",
				Signature:     "abc123",
				Tier:          commission.TierSimple,
			},
			{
				ID:            "PROP-G200-001",
				Group:         "G200",
				Products:      []commission.ProductCode{"A"},
				Plans:         []commission.PlanCode{"GOLD"},
				EffectiveFrom: commission.NewDate(2024, time.January, 1),
				LeadBroker:    "BRK-1",
				Signature:     "def456",
				Tier:          commission.TierGranular,
			},
		},
		configs: []commission.SplitConfiguration{{
			Proposal: "PROP-G100-001",
			Version:  1,
			Participants: []commission.SplitParticipant{
				{Broker: "BRK-1", Percent: decimal.NewFromInt(100), Sequence: 1, Hierarchy: "HIER-G100-01-BRK-1"},
			},
		}},
		assignments: []commission.PolicyAssignment{
			{Certificate: "C1", Group: "G100", Proposal: "PROP-G100-001", Provenance: commission.ProvenanceKeyMapping},
		},
		exceptions: []commission.PolicyHierarchyAssignment{{
			Certificate: "C9",
			Group:       commission.GroupNone,
			Reason:      commission.ReasonNoGroup,
			Participants: []commission.ExceptionParticipant{
				{Sequence: 1, Level: 1, Broker: "BRK-1", Percent: decimal.NewFromInt(100)},
			},
		}},
		conformance: []commission.ConformanceRecord{
			{Group: "G100", Total: 10, Resolved: 10, Percentage: decimal.NewFromInt(100), Class: commission.Conformant},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// ENDPOINTS
// =============================================================================

func TestListProposals(t *testing.T) {
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))

	rec := get(t, router, "/api/proposals")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []api.ProposalDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 2)

	// Wildcard scope serializes as ["*"]; closed range as a date pair.
	assert.Equal(t, []string{"*"}, dtos[0].Products)
	require.NotNil(t, dtos[0].EffectiveTo)
	assert.Equal(t, "2023-12-31", *dtos[0].EffectiveTo)

	assert.Equal(t, []string{"A"}, dtos[1].Products)
	assert.Nil(t, dtos[1].EffectiveTo)
}

func TestListProposals_GroupFilter(t *testing.T) {
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))

	rec := get(t, router, "/api/proposals?group=G200")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []api.ProposalDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	assert.Equal(t, "G200", dtos[0].Group)
}

func TestGetProposal_WithConfiguration(t *testing.T) {
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))

	rec := get(t, router, "/api/proposals/PROP-G100-001")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.ProposalDetailDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "PROP-G100-001", dto.ID)
	require.Len(t, dto.Participants, 1)
	assert.Equal(t, "100", dto.Participants[0].Percent)
	assert.Equal(t, "HIER-G100-01-BRK-1", dto.Participants[0].Hierarchy)
}

func TestGetProposal_NotFound(t *testing.T) {
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))

	rec := get(t, router, "/api/proposals/PROP-NOPE-001")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExceptions(t *testing.T) {
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))

	rec := get(t, router, "/api/exceptions")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []api.ExceptionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	assert.Equal(t, "no_group", dtos[0].Reason)
	require.Len(t, dtos[0].Participants, 1)
	assert.Equal(t, "100", dtos[0].Participants[0].Percent)
}

func TestListConformance(t *testing.T) {
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))

	rec := get(t, router, "/api/conformance")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []api.ConformanceDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	require.Len(t, dtos, 1)
	assert.Equal(t, "conformant", dtos[0].Class)
	assert.Equal(t, "100", dtos[0].Percentage)
}

func TestGetReport(t *testing.T) {
	// No engine wired: 404.
	router := api.NewRouter(api.NewHandler(fixtureSource(), nil))
	rec := get(t, router, "/api/report")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// After a run the report is served.
	eng := pipeline.New(pipeline.Config{})
	_, err := eng.Run(context.Background(), pipeline.Snapshot{})
	require.NoError(t, err)

	router = api.NewRouter(api.NewHandler(fixtureSource(), eng))
	rec = get(t, router, "/api/report")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.RunReportDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Len(t, dto.Stages, 7)
}
