/*
handlers.go - HTTP handlers for the inspection API

PURPOSE:
  Read-only views over the saved migration results, for operators
  checking a run before hand-off to the export stage.

ENDPOINTS:
  GET /api/proposals            List proposals (?group= filters)
  GET /api/proposals/{id}       One proposal with its split configuration
  GET /api/hierarchies          List hierarchies with rules
  GET /api/assignments          Policy-to-proposal assignments
  GET /api/exceptions           Exception structures
  GET /api/conformance          Per-group conformance records
  GET /api/report               Last run's stage report

ERROR HANDLING:
  Errors are returned as JSON:
  - 404: unknown proposal id, no run report yet
  - 500: storage errors

SEE ALSO:
  - dto.go: response shapes
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/pipeline"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Source is the read side the handlers serve from. The SQLite store
// implements it; tests use an in-memory fake.
type Source interface {
	LoadProposals(ctx context.Context, group commission.GroupID) ([]commission.Proposal, error)
	LoadConfigurations(ctx context.Context) ([]commission.SplitConfiguration, error)
	LoadHierarchies(ctx context.Context) ([]commission.Hierarchy, error)
	LoadAssignments(ctx context.Context) ([]commission.PolicyAssignment, error)
	LoadExceptions(ctx context.Context) ([]commission.PolicyHierarchyAssignment, error)
	LoadConformance(ctx context.Context) ([]commission.ConformanceRecord, error)
}

// Handler holds the handlers' dependencies.
type Handler struct {
	Source Source

	// Engine is optional; when set, /api/report serves the latest run's
	// stage report.
	Engine *pipeline.Engine
}

// NewHandler creates a handler over a results source.
func NewHandler(source Source, engine *pipeline.Engine) *Handler {
	return &Handler{Source: source, Engine: engine}
}

// =============================================================================
// PROPOSALS
// =============================================================================

// ListProposals returns all proposals, optionally filtered by group.
// GET /api/proposals?group=G100
func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	group := commission.GroupID(r.URL.Query().Get("group"))

	proposals, err := h.Source.LoadProposals(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load proposals", err)
		return
	}

	dtos := make([]ProposalDTO, 0, len(proposals))
	for _, p := range proposals {
		dtos = append(dtos, toProposalDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProposal returns one proposal with its split configuration.
// GET /api/proposals/{id}
func (h *Handler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id := commission.ProposalID(chi.URLParam(r, "id"))

	proposals, err := h.Source.LoadProposals(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load proposals", err)
		return
	}

	for _, p := range proposals {
		if p.ID != id {
			continue
		}
		detail := ProposalDetailDTO{ProposalDTO: toProposalDTO(p)}

		configs, err := h.Source.LoadConfigurations(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load configurations", err)
			return
		}
		for _, c := range configs {
			if c.Proposal != id {
				continue
			}
			detail.ConfigVersion = c.Version
			for _, part := range c.Participants {
				detail.Participants = append(detail.Participants, SplitParticipantDTO{
					Broker:    string(part.Broker),
					Percent:   part.Percent.String(),
					Sequence:  part.Sequence,
					Hierarchy: string(part.Hierarchy),
				})
			}
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}

	writeError(w, http.StatusNotFound, "Proposal not found", nil)
}

// =============================================================================
// HIERARCHIES, ASSIGNMENTS, EXCEPTIONS, CONFORMANCE
// =============================================================================

// ListHierarchies returns all hierarchies with their rules.
// GET /api/hierarchies
func (h *Handler) ListHierarchies(w http.ResponseWriter, r *http.Request) {
	hierarchies, err := h.Source.LoadHierarchies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load hierarchies", err)
		return
	}

	dtos := make([]HierarchyDTO, 0, len(hierarchies))
	for _, hier := range hierarchies {
		dtos = append(dtos, toHierarchyDTO(hier))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAssignments returns the policy-to-proposal assignment table.
// GET /api/assignments
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.Source.LoadAssignments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load assignments", err)
		return
	}

	dtos := make([]AssignmentDTO, 0, len(assignments))
	for _, a := range assignments {
		dtos = append(dtos, AssignmentDTO{
			Certificate: string(a.Certificate),
			Group:       string(a.Group),
			Proposal:    string(a.Proposal),
			Provenance:  string(a.Provenance),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListExceptions returns the exception structures.
// GET /api/exceptions
func (h *Handler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	exceptions, err := h.Source.LoadExceptions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load exceptions", err)
		return
	}

	dtos := make([]ExceptionDTO, 0, len(exceptions))
	for _, x := range exceptions {
		dtos = append(dtos, toExceptionDTO(x))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListConformance returns the per-group conformance roll-up.
// GET /api/conformance
func (h *Handler) ListConformance(w http.ResponseWriter, r *http.Request) {
	records, err := h.Source.LoadConformance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load conformance", err)
		return
	}

	dtos := make([]ConformanceDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, ConformanceDTO{
			Group:      string(rec.Group),
			Total:      rec.Total,
			Resolved:   rec.Resolved,
			Percentage: rec.Percentage.String(),
			Class:      string(rec.Class),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RUN REPORT
// =============================================================================

// GetReport returns the latest run's stage report.
// GET /api/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil || h.Engine.Current() == nil {
		writeError(w, http.StatusNotFound, "No completed run", nil)
		return
	}

	report := h.Engine.Current().Report
	dto := RunReportDTO{
		Started:  report.Started.UTC().Format(time.RFC3339),
		Finished: report.Finished.UTC().Format(time.RFC3339),
	}
	for _, s := range report.Stages {
		dto.Stages = append(dto.Stages, StageLineDTO{
			Name:       s.Name,
			DurationMS: s.Duration.Milliseconds(),
			Outputs:    s.Outputs,
			Warnings:   s.Warnings,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
