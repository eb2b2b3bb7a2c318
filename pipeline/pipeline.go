/*
Package pipeline runs the migration stages in order.

PURPOSE:
  The engine executes seven stages strictly sequentially - each stage
  consumes only the outputs of earlier ones:

    extract -> filter -> classify -> hierarchy -> resolve ->
    exceptions -> audit

  Every stage computes its output into fresh values and assigns them to
  the run's Results only on success. A failed stage therefore leaves
  every earlier stage's output intact, and the run can be retried from
  the failed stage. Published results are replaced atomically: readers
  of the engine never observe a half-finished run.

OWNERSHIP:
  Each Results field is written by exactly one stage and is read-only
  afterward. No stage mutates another stage's entities.

SEE ALSO:
  - report.go: per-stage counts, durations and warning tallies
*/
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/commission-engine/audit"
	"github.com/warp/commission-engine/classify"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/hierarchy"
	"github.com/warp/commission-engine/resolve"
)

// =============================================================================
// SNAPSHOT AND RESULTS
// =============================================================================

// Snapshot is the raw input, loaded once per run by the store.
type Snapshot struct {
	Records []commission.CertificateSplitRecord
	Brokers []commission.Broker
}

// Results holds every stage's owned output.
type Results struct {
	Legs     []commission.SplitLeg
	Warnings []error

	Partition *classify.Partition

	Proposals      []commission.Proposal
	Configurations []commission.SplitConfiguration
	KeyMap         map[commission.NaturalKey]commission.ProposalID

	Hierarchies []commission.Hierarchy

	Assignments []commission.PolicyAssignment

	// Unresolved policies are reportable warnings; Direct holds
	// unmatched direct-to-consumer policies. Both are exception-routed.
	Unresolved []resolve.Policy
	Direct     []resolve.Policy

	Exceptions []commission.PolicyHierarchyAssignment

	Conformance []commission.ConformanceRecord
	Ambiguous   []audit.Finding

	Report *RunReport
}

// =============================================================================
// ENGINE
// =============================================================================

// Config tunes a run. Zero values pick safe defaults.
type Config struct {
	// Workers bounds per-group parallelism inside the classifier and
	// hierarchy stages. Values < 1 mean sequential.
	Workers int

	Logger *zap.Logger
}

// Engine executes runs and publishes the latest completed results.
type Engine struct {
	cfg Config
	log *zap.Logger

	mu      sync.RWMutex
	current *Results
}

func New(cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: cfg.Logger}
}

// Current returns the most recently published results, or nil before
// the first successful run.
func (e *Engine) Current() *Results {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// StageError reports which stage aborted a run. Earlier stages' outputs
// remain valid.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{commission.ErrStageFailed, e.Err}
}

// =============================================================================
// RUN
// =============================================================================

type stage struct {
	name string
	run  func(*Results) error
}

// Run executes the full pipeline over a snapshot. On success the results
// are published and returned; on failure the previously published
// results are left untouched and the error identifies the failed stage.
func (e *Engine) Run(ctx context.Context, snap Snapshot) (*Results, error) {
	res := &Results{Report: newRunReport()}

	stages := []stage{
		{"extract", func(r *Results) error { return e.extract(r, snap) }},
		{"filter", e.filter},
		{"classify", e.classify},
		{"hierarchy", e.buildHierarchies},
		{"resolve", e.resolvePolicies},
		{"exceptions", e.routeExceptions},
		{"audit", e.auditConformance},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: s.name, Err: err}
		}
		started := time.Now()
		if err := s.run(res); err != nil {
			e.log.Error("stage failed",
				zap.String("stage", s.name),
				zap.Duration("took", time.Since(started)),
				zap.Error(err))
			return nil, &StageError{Stage: s.name, Err: err}
		}
		sr := res.Report.finish(s.name, started, res)
		e.log.Info("stage complete",
			zap.String("stage", s.name),
			zap.Duration("took", sr.Duration),
			zap.Int("outputs", sr.Outputs),
			zap.Int("warnings", sr.Warnings))
	}
	res.Report.Finished = time.Now()

	e.mu.Lock()
	e.current = res
	e.mu.Unlock()
	return res, nil
}

// =============================================================================
// STAGES
// =============================================================================

func (e *Engine) extract(res *Results, snap Snapshot) error {
	brokers := make(map[commission.BrokerID]commission.Broker, len(snap.Brokers))
	for _, b := range snap.Brokers {
		brokers[b.ID] = b
	}

	ex := &classify.Extractor{Brokers: brokers}
	out, err := ex.Extract(snap.Records)
	if err != nil {
		return err
	}
	res.Legs = out.Legs
	res.Warnings = out.Warnings
	return nil
}

func (e *Engine) filter(res *Results) error {
	res.Partition = classify.Filter(res.Legs)
	return nil
}

func (e *Engine) classify(res *Results) error {
	out, err := classify.Classify(res.Partition.Conformant, e.cfg.Workers)
	if err != nil {
		return err
	}
	res.Proposals = classify.NormalizeDateRanges(out.Proposals)
	res.Configurations = out.Configurations
	res.KeyMap = out.KeyMap
	return nil
}

func (e *Engine) buildHierarchies(res *Results) error {
	hs, err := hierarchy.Build(res.Partition.Conformant, res.Proposals, e.cfg.Workers)
	if err != nil {
		return err
	}
	hierarchy.LinkConfigurations(res.Configurations, res.Proposals, hs)
	res.Hierarchies = hs
	return nil
}

func (e *Engine) resolvePolicies(res *Results) error {
	// Certificates with a bad percent sum bypass proposal sharing, as
	// does any certificate with at least one leg in the exception pool:
	// a certificate is owned by exactly one path, never both.
	skip := badPercentCerts(res.Warnings)
	for _, l := range res.Partition.NonConformant {
		skip[l.Certificate] = true
	}

	var legs []commission.SplitLeg
	for _, l := range res.Partition.Conformant {
		if !skip[l.Certificate] {
			legs = append(legs, l)
		}
	}

	state := resolve.NewState(res.KeyMap, res.Proposals)
	out := resolve.Resolve(resolve.PoliciesFromLegs(legs), state)
	for _, miss := range out.Misses() {
		e.log.Warn("policy unresolved", zap.Error(miss))
	}
	res.Assignments = out.Assignments
	res.Unresolved = out.Unresolved
	res.Direct = out.Direct
	return nil
}

func (e *Engine) routeExceptions(res *Results) error {
	b := resolve.NewExceptionBuilder(res.Hierarchies)

	var noGroup, flagged []commission.SplitLeg
	for _, l := range res.Partition.NonConformant {
		if l.Group == commission.GroupNone {
			noGroup = append(noGroup, l)
		} else {
			flagged = append(flagged, l)
		}
	}
	b.Route(noGroup, commission.ReasonNoGroup)
	b.Route(flagged, commission.ReasonNonConformant)

	bad := badPercentCerts(res.Warnings)
	unplaced := make(map[commission.CertificateID]bool, len(res.Unresolved)+len(res.Direct))
	for _, p := range res.Unresolved {
		unplaced[p.Certificate] = true
	}
	for _, p := range res.Direct {
		unplaced[p.Certificate] = true
	}
	var rest []commission.SplitLeg
	for _, l := range res.Partition.Conformant {
		if bad[l.Certificate] || unplaced[l.Certificate] {
			rest = append(rest, l)
		}
	}
	b.Route(rest, commission.ReasonUnresolved)

	res.Exceptions = b.Assignments()
	return nil
}

func (e *Engine) auditConformance(res *Results) error {
	// The roll-up covers every certificate of a group, flagged pools
	// included. No-group business bypasses proposal resolution and is
	// not a group, so it never appears in a conformance record.
	legs := make([]commission.SplitLeg, 0, len(res.Legs))
	for _, l := range res.Legs {
		if l.Group != commission.GroupNone {
			legs = append(legs, l)
		}
	}
	report := audit.Run(legs, res.Proposals)
	res.Conformance = report.Records
	res.Ambiguous = report.Ambiguous
	return nil
}

// badPercentCerts collects the certificates behind percent-sum warnings.
func badPercentCerts(warnings []error) map[commission.CertificateID]bool {
	out := make(map[commission.CertificateID]bool)
	for _, w := range warnings {
		if pe, ok := w.(*commission.PercentSumError); ok {
			out[pe.Certificate] = true
		}
	}
	return out
}
