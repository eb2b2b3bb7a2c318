/*
dto.go - JSON shapes for the inspection API

PURPOSE:
  Decouples the domain model from the wire contract. Dates serialize as
  YYYY-MM-DD strings; percentages as decimal strings (never floats);
  wildcard scopes as the literal "*".

NAMING CONVENTION:
  *DTO: response types returned to clients. The inspection API is
  read-only, so there are no request body types.

SEE ALSO:
  - handlers.go: builds these from stored results
*/
package api

import (
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// PROPOSALS
// =============================================================================

// ProposalDTO is one proposal in API responses.
type ProposalDTO struct {
	ID            string   `json:"id"`
	Group         string   `json:"group"`
	Products      []string `json:"products"` // ["*"] = all products
	Plans         []string `json:"plans"`    // ["*"] = all plans
	EffectiveFrom string   `json:"effective_from"`
	EffectiveTo   *string  `json:"effective_to,omitempty"` // absent = open-ended
	LeadBroker    string   `json:"lead_broker"`
	Signature     string   `json:"signature"`
	Tier          string   `json:"tier"`
}

// SplitParticipantDTO is one broker's share of a proposal's premium split.
type SplitParticipantDTO struct {
	Broker    string `json:"broker"`
	Percent   string `json:"percent"`
	Sequence  int    `json:"sequence"`
	Hierarchy string `json:"hierarchy,omitempty"`
}

// ProposalDetailDTO is a proposal with its split configuration.
type ProposalDetailDTO struct {
	ProposalDTO
	ConfigVersion int                   `json:"config_version,omitempty"`
	Participants  []SplitParticipantDTO `json:"participants,omitempty"`
}

// =============================================================================
// HIERARCHIES
// =============================================================================

// HierarchyDTO is one broker upline chain with its rules.
type HierarchyDTO struct {
	ID                 string                    `json:"id"`
	Group              string                    `json:"group"`
	Sequence           int                       `json:"sequence"`
	WritingBroker      string                    `json:"writing_broker"`
	Signature          string                    `json:"signature"`
	RepresentativeDate string                    `json:"representative_date"`
	Proposal           string                    `json:"proposal"`
	Participants       []HierarchyParticipantDTO `json:"participants"`
	Rules              []StateRuleDTO            `json:"rules"`
}

type HierarchyParticipantDTO struct {
	Level    int    `json:"level"`
	Broker   string `json:"broker"`
	Rate     string `json:"rate"`
	Schedule string `json:"schedule,omitempty"`
}

type StateRuleDTO struct {
	ID       string     `json:"id"`
	CatchAll bool       `json:"catch_all"`
	State    string     `json:"state,omitempty"`
	Splits   []SplitDTO `json:"splits"`
}

type SplitDTO struct {
	Product       string            `json:"product"`
	Distributions []DistributionDTO `json:"distributions"`
}

type DistributionDTO struct {
	Level   int    `json:"level"`
	Broker  string `json:"broker"`
	Percent string `json:"percent"`
}

// =============================================================================
// ASSIGNMENTS, EXCEPTIONS, CONFORMANCE
// =============================================================================

// AssignmentDTO is one certificate's resolved proposal with provenance.
type AssignmentDTO struct {
	Certificate string `json:"certificate"`
	Group       string `json:"group"`
	Proposal    string `json:"proposal"`
	Provenance  string `json:"provenance"`
}

// ExceptionDTO is one standalone exception structure.
type ExceptionDTO struct {
	Certificate  string                    `json:"certificate"`
	Group        string                    `json:"group"`
	Reason       string                    `json:"reason"`
	Participants []ExceptionParticipantDTO `json:"participants"`
	ProductLinks []ProductRuleLinkDTO      `json:"product_links,omitempty"`
}

type ExceptionParticipantDTO struct {
	Sequence int    `json:"sequence"`
	Level    int    `json:"level"`
	Broker   string `json:"broker"`
	Percent  string `json:"percent"`
	Schedule string `json:"schedule,omitempty"`
}

type ProductRuleLinkDTO struct {
	Product   string `json:"product"`
	StateRule string `json:"state_rule,omitempty"`
}

// ConformanceDTO is one group's resolution-quality roll-up.
type ConformanceDTO struct {
	Group      string `json:"group"`
	Total      int    `json:"total"`
	Resolved   int    `json:"resolved"`
	Percentage string `json:"percentage"`
	Class      string `json:"class"`
}

// =============================================================================
// RUN REPORT
// =============================================================================

type RunReportDTO struct {
	Started  string         `json:"started"`
	Finished string         `json:"finished"`
	Stages   []StageLineDTO `json:"stages"`
}

type StageLineDTO struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Outputs    int    `json:"outputs"`
	Warnings   int    `json:"warnings"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func scopeProducts(codes []commission.ProductCode) []string {
	if codes == nil {
		return []string{string(commission.WildcardProduct)}
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func scopePlans(codes []commission.PlanCode) []string {
	if codes == nil {
		return []string{string(commission.WildcardPlan)}
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func toProposalDTO(p commission.Proposal) ProposalDTO {
	dto := ProposalDTO{
		ID:            string(p.ID),
		Group:         string(p.Group),
		Products:      scopeProducts(p.Products),
		Plans:         scopePlans(p.Plans),
		EffectiveFrom: p.EffectiveFrom.String(),
		LeadBroker:    string(p.LeadBroker),
		Signature:     string(p.Signature),
		Tier:          string(p.Tier),
	}
	if p.EffectiveTo != nil {
		s := p.EffectiveTo.String()
		dto.EffectiveTo = &s
	}
	return dto
}

func toHierarchyDTO(h commission.Hierarchy) HierarchyDTO {
	dto := HierarchyDTO{
		ID:                 string(h.ID),
		Group:              string(h.Group),
		Sequence:           h.Sequence,
		WritingBroker:      string(h.WritingBroker),
		Signature:          string(h.Signature),
		RepresentativeDate: h.RepresentativeDate.String(),
		Proposal:           string(h.Proposal),
	}
	for _, p := range h.Version.Participants {
		dto.Participants = append(dto.Participants, HierarchyParticipantDTO{
			Level:    p.Level,
			Broker:   string(p.Broker),
			Rate:     p.Rate.String(),
			Schedule: string(p.Schedule),
		})
	}
	for _, rule := range h.Version.Rules.Rules {
		rdto := StateRuleDTO{ID: rule.ID, CatchAll: rule.CatchAll, State: rule.State}
		for _, split := range rule.Splits {
			sdto := SplitDTO{Product: string(split.Product)}
			for _, d := range split.Distributions {
				sdto.Distributions = append(sdto.Distributions, DistributionDTO{
					Level:   d.Level,
					Broker:  string(d.Broker),
					Percent: d.Percent.String(),
				})
			}
			rdto.Splits = append(rdto.Splits, sdto)
		}
		dto.Rules = append(dto.Rules, rdto)
	}
	return dto
}

func toExceptionDTO(x commission.PolicyHierarchyAssignment) ExceptionDTO {
	dto := ExceptionDTO{
		Certificate: string(x.Certificate),
		Group:       string(x.Group),
		Reason:      string(x.Reason),
	}
	for _, p := range x.Participants {
		dto.Participants = append(dto.Participants, ExceptionParticipantDTO{
			Sequence: p.Sequence,
			Level:    p.Level,
			Broker:   string(p.Broker),
			Percent:  p.Percent.String(),
			Schedule: string(p.Schedule),
		})
	}
	for _, l := range x.ProductLinks {
		dto.ProductLinks = append(dto.ProductLinks, ProductRuleLinkDTO{
			Product:   string(l.Product),
			StateRule: l.StateRule,
		})
	}
	return dto
}
