/*
Package sqlite persists the migration engine's inputs and outputs.

PURPOSE:
  Two halves share one database:

  1. The raw snapshot (certificate split rows + broker master), written
     by the ingestion collaborator and loaded here once per run.
  2. The run outputs (proposals, hierarchies, assignments, exceptions,
     conformance), replaced atomically after a successful run and read
     by the export collaborator and the inspection API.

ATOMIC REPLACE:
  SaveRun deletes and re-inserts every output table inside a single
  database transaction. A reader never observes a half-written run, and
  a failed save leaves the previous run's outputs intact - the storage
  mirror of the pipeline's own stage-retry contract.

WAL MODE:
  SQLite is opened with WAL so the inspection API can read while a run
  is being saved.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - pipeline/pipeline.go: the Results structure saved here
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/pipeline"
)

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Raw snapshot: one row per (certificate, split-sequence, level)
	CREATE TABLE IF NOT EXISTS certificate_splits (
		certificate_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		product TEXT NOT NULL,
		plan TEXT NOT NULL,
		split_sequence INTEGER NOT NULL,
		level INTEGER NOT NULL,
		broker TEXT NOT NULL,
		split_percent TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_splits_certificate
		ON certificate_splits(certificate_id, split_sequence, level);
	CREATE INDEX IF NOT EXISTS idx_splits_group
		ON certificate_splits(group_id);

	-- Broker master list
	CREATE TABLE IF NOT EXISTS brokers (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT ''
	);

	-- Proposals (scope lists are comma-joined; NULL = wildcard)
	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		products TEXT,
		plans TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		lead_broker TEXT NOT NULL,
		signature TEXT NOT NULL,
		tier TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_group
		ON proposals(group_id, effective_from);

	-- Premium split participants per proposal configuration version
	CREATE TABLE IF NOT EXISTS split_participants (
		proposal_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		broker TEXT NOT NULL,
		percent TEXT NOT NULL,
		hierarchy_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (proposal_id, version, sequence)
	);

	-- Hierarchies
	CREATE TABLE IF NOT EXISTS hierarchies (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		writing_broker TEXT NOT NULL,
		signature TEXT NOT NULL,
		representative_date TEXT NOT NULL,
		proposal_id TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hierarchies_group
		ON hierarchies(group_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_hierarchies_proposal
		ON hierarchies(proposal_id);

	CREATE TABLE IF NOT EXISTS hierarchy_participants (
		hierarchy_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		broker TEXT NOT NULL,
		rate TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (hierarchy_id, level, broker)
	);

	-- State rules and their product splits / distributions
	CREATE TABLE IF NOT EXISTS state_rules (
		id TEXT PRIMARY KEY,
		hierarchy_id TEXT NOT NULL,
		catch_all BOOLEAN NOT NULL,
		state TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_state_rules_hierarchy
		ON state_rules(hierarchy_id);

	CREATE TABLE IF NOT EXISTS split_distributions (
		rule_id TEXT NOT NULL,
		product TEXT NOT NULL,
		level INTEGER NOT NULL,
		broker TEXT NOT NULL,
		percent TEXT NOT NULL,
		PRIMARY KEY (rule_id, product, level, broker)
	);

	-- Policy-to-proposal assignments with provenance
	CREATE TABLE IF NOT EXISTS policy_assignments (
		certificate_id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		proposal_id TEXT NOT NULL,
		provenance TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_proposal
		ON policy_assignments(proposal_id);

	-- Exception structures (standalone per-policy hierarchies)
	CREATE TABLE IF NOT EXISTS exceptions (
		certificate_id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exception_participants (
		certificate_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		level INTEGER NOT NULL,
		broker TEXT NOT NULL,
		percent TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_exception_participants
		ON exception_participants(certificate_id, sequence, level);

	CREATE TABLE IF NOT EXISTS exception_product_links (
		certificate_id TEXT NOT NULL,
		product TEXT NOT NULL,
		state_rule TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (certificate_id, product)
	);

	-- Per-group conformance roll-up
	CREATE TABLE IF NOT EXISTS conformance (
		group_id TEXT PRIMARY KEY,
		total INTEGER NOT NULL,
		resolved INTEGER NOT NULL,
		percentage TEXT NOT NULL,
		class TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SNAPSHOT - raw inputs
// =============================================================================

// SaveSnapshot replaces the raw snapshot tables. Used by tooling and
// tests; production snapshots are written by the ingestion collaborator.
func (s *Store) SaveSnapshot(ctx context.Context, snap pipeline.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"certificate_splits", "brokers"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}

		for _, r := range snap.Records {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO certificate_splits
				(certificate_id, group_id, effective_date, product, plan,
				 split_sequence, level, broker, split_percent, schedule, state)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.CertificateID, r.GroupID, r.EffectiveDate, r.Product, r.Plan,
				r.SplitSequence, r.Level, r.Broker, r.SplitPercent.String(),
				r.Schedule, r.State)
			if err != nil {
				return err
			}
		}

		for _, b := range snap.Brokers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO brokers (id, external_id, name) VALUES (?, ?, ?)`,
				b.ID, b.ExternalID, b.Name)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot reads the full raw snapshot in canonical order.
func (s *Store) LoadSnapshot(ctx context.Context) (pipeline.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap pipeline.Snapshot

	rows, err := s.db.QueryContext(ctx, `
		SELECT certificate_id, group_id, effective_date, product, plan,
		       split_sequence, level, broker, split_percent, schedule, state
		FROM certificate_splits
		ORDER BY certificate_id, split_sequence, level`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var r commission.CertificateSplitRecord
		var percent string
		if err := rows.Scan(&r.CertificateID, &r.GroupID, &r.EffectiveDate,
			&r.Product, &r.Plan, &r.SplitSequence, &r.Level, &r.Broker,
			&percent, &r.Schedule, &r.State); err != nil {
			return snap, err
		}
		if r.SplitPercent, err = decimal.NewFromString(percent); err != nil {
			return snap, fmt.Errorf("certificate %s: bad split percent %q: %w", r.CertificateID, percent, err)
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	brows, err := s.db.QueryContext(ctx,
		"SELECT id, external_id, name FROM brokers ORDER BY id")
	if err != nil {
		return snap, err
	}
	defer brows.Close()

	for brows.Next() {
		var b commission.Broker
		if err := brows.Scan(&b.ID, &b.ExternalID, &b.Name); err != nil {
			return snap, err
		}
		snap.Brokers = append(snap.Brokers, b)
	}
	return snap, brows.Err()
}

// =============================================================================
// RUN OUTPUTS - atomic replace
// =============================================================================

var outputTables = []string{
	"proposals", "split_participants",
	"hierarchies", "hierarchy_participants", "state_rules", "split_distributions",
	"policy_assignments",
	"exceptions", "exception_participants", "exception_product_links",
	"conformance",
}

// SaveRun replaces every output table with the run's results inside one
// database transaction.
func (s *Store) SaveRun(ctx context.Context, res *pipeline.Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range outputTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		if err := insertProposals(ctx, tx, res.Proposals, res.Configurations); err != nil {
			return err
		}
		if err := insertHierarchies(ctx, tx, res.Hierarchies); err != nil {
			return err
		}
		if err := insertAssignments(ctx, tx, res.Assignments); err != nil {
			return err
		}
		if err := insertExceptions(ctx, tx, res.Exceptions); err != nil {
			return err
		}
		return insertConformance(ctx, tx, res.Conformance)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertProposals(ctx context.Context, tx *sql.Tx, proposals []commission.Proposal, configs []commission.SplitConfiguration) error {
	for _, p := range proposals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proposals
			(id, group_id, products, plans, effective_from, effective_to,
			 lead_broker, signature, tier)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Group,
			joinProducts(p.Products), joinPlans(p.Plans),
			p.EffectiveFrom.String(), dateOrNull(p.EffectiveTo),
			p.LeadBroker, p.Signature, p.Tier)
		if err != nil {
			return err
		}
	}

	for _, c := range configs {
		for _, part := range c.Participants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO split_participants
				(proposal_id, version, sequence, broker, percent, hierarchy_id)
				VALUES (?, ?, ?, ?, ?, ?)`,
				c.Proposal, c.Version, part.Sequence, part.Broker,
				part.Percent.String(), part.Hierarchy)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func insertHierarchies(ctx context.Context, tx *sql.Tx, hierarchies []commission.Hierarchy) error {
	for _, h := range hierarchies {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO hierarchies
			(id, group_id, sequence, writing_broker, signature,
			 representative_date, proposal_id, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.Group, h.Sequence, h.WritingBroker, h.Signature,
			h.RepresentativeDate.String(), h.Proposal, h.Version.Number)
		if err != nil {
			return err
		}

		for _, p := range h.Version.Participants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO hierarchy_participants
				(hierarchy_id, level, broker, rate, schedule)
				VALUES (?, ?, ?, ?, ?)`,
				h.ID, p.Level, p.Broker, p.Rate.String(), p.Schedule)
			if err != nil {
				return err
			}
		}

		for _, rule := range h.Version.Rules.Rules {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO state_rules (id, hierarchy_id, catch_all, state)
				VALUES (?, ?, ?, ?)`,
				rule.ID, h.ID, rule.CatchAll, rule.State)
			if err != nil {
				return err
			}
			for _, split := range rule.Splits {
				for _, dist := range split.Distributions {
					_, err := tx.ExecContext(ctx, `
						INSERT INTO split_distributions
						(rule_id, product, level, broker, percent)
						VALUES (?, ?, ?, ?, ?)`,
						rule.ID, split.Product, dist.Level, dist.Broker,
						dist.Percent.String())
					if err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func insertAssignments(ctx context.Context, tx *sql.Tx, assignments []commission.PolicyAssignment) error {
	for _, a := range assignments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policy_assignments
			(certificate_id, group_id, proposal_id, provenance)
			VALUES (?, ?, ?, ?)`,
			a.Certificate, a.Group, a.Proposal, a.Provenance)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertExceptions(ctx context.Context, tx *sql.Tx, exceptions []commission.PolicyHierarchyAssignment) error {
	for _, x := range exceptions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exceptions (certificate_id, group_id, reason)
			VALUES (?, ?, ?)`,
			x.Certificate, x.Group, x.Reason)
		if err != nil {
			return err
		}
		for _, p := range x.Participants {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO exception_participants
				(certificate_id, sequence, level, broker, percent, schedule)
				VALUES (?, ?, ?, ?, ?, ?)`,
				x.Certificate, p.Sequence, p.Level, p.Broker,
				p.Percent.String(), p.Schedule)
			if err != nil {
				return err
			}
		}
		for _, l := range x.ProductLinks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO exception_product_links
				(certificate_id, product, state_rule)
				VALUES (?, ?, ?)`,
				x.Certificate, l.Product, l.StateRule)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func insertConformance(ctx context.Context, tx *sql.Tx, records []commission.ConformanceRecord) error {
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conformance (group_id, total, resolved, percentage, class)
			VALUES (?, ?, ?, ?, ?)`,
			r.Group, r.Total, r.Resolved, r.Percentage.String(), r.Class)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// READ SIDE - consumed by the inspection API and the audit CLI
// =============================================================================

// LoadProposals returns all saved proposals; pass an empty group for all.
func (s *Store) LoadProposals(ctx context.Context, group commission.GroupID) ([]commission.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, group_id, products, plans, effective_from, effective_to,
		       lead_broker, signature, tier
		FROM proposals`
	args := []any{}
	if group != "" {
		query += " WHERE group_id = ?"
		args = append(args, group)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Proposal
	for rows.Next() {
		var p commission.Proposal
		var products, plans, to sql.NullString
		var from string
		if err := rows.Scan(&p.ID, &p.Group, &products, &plans, &from, &to,
			&p.LeadBroker, &p.Signature, &p.Tier); err != nil {
			return nil, err
		}
		if p.EffectiveFrom, err = commission.ParseDate(from); err != nil {
			return nil, err
		}
		if to.Valid {
			d, err := commission.ParseDate(to.String)
			if err != nil {
				return nil, err
			}
			p.EffectiveTo = &d
		}
		p.Products = splitProducts(products)
		p.Plans = splitPlans(plans)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadConfigurations returns all saved split configurations keyed by
// proposal.
func (s *Store) LoadConfigurations(ctx context.Context) ([]commission.SplitConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, version, sequence, broker, percent, hierarchy_id
		FROM split_participants
		ORDER BY proposal_id, version, sequence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.SplitConfiguration
	for rows.Next() {
		var proposal commission.ProposalID
		var version int
		var part commission.SplitParticipant
		var percent string
		if err := rows.Scan(&proposal, &version, &part.Sequence, &part.Broker,
			&percent, &part.Hierarchy); err != nil {
			return nil, err
		}
		if part.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, err
		}
		n := len(out)
		if n == 0 || out[n-1].Proposal != proposal || out[n-1].Version != version {
			out = append(out, commission.SplitConfiguration{Proposal: proposal, Version: version})
			n++
		}
		out[n-1].Participants = append(out[n-1].Participants, part)
	}
	return out, rows.Err()
}

// LoadHierarchies returns all saved hierarchies with their participant
// chains, state rules and distributions.
func (s *Store) LoadHierarchies(ctx context.Context) ([]commission.Hierarchy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, sequence, writing_broker, signature,
		       representative_date, proposal_id, version
		FROM hierarchies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Hierarchy
	index := make(map[commission.HierarchyID]int)
	for rows.Next() {
		var h commission.Hierarchy
		var rep string
		if err := rows.Scan(&h.ID, &h.Group, &h.Sequence, &h.WritingBroker,
			&h.Signature, &rep, &h.Proposal, &h.Version.Number); err != nil {
			return nil, err
		}
		if h.RepresentativeDate, err = commission.ParseDate(rep); err != nil {
			return nil, err
		}
		index[h.ID] = len(out)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadHierarchyParticipants(ctx, out, index); err != nil {
		return nil, err
	}
	return out, s.loadStateRules(ctx, out, index)
}

func (s *Store) loadHierarchyParticipants(ctx context.Context, out []commission.Hierarchy, index map[commission.HierarchyID]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hierarchy_id, level, broker, rate, schedule
		FROM hierarchy_participants ORDER BY hierarchy_id, level, broker`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id commission.HierarchyID
		var p commission.HierarchyParticipant
		var rate string
		if err := rows.Scan(&id, &p.Level, &p.Broker, &rate, &p.Schedule); err != nil {
			return err
		}
		if p.Rate, err = decimal.NewFromString(rate); err != nil {
			return err
		}
		i, ok := index[id]
		if !ok {
			return fmt.Errorf("participant references unknown hierarchy %s", id)
		}
		out[i].Version.Participants = append(out[i].Version.Participants, p)
	}
	return rows.Err()
}

func (s *Store) loadStateRules(ctx context.Context, out []commission.Hierarchy, index map[commission.HierarchyID]int) error {
	dists, err := s.loadDistributions(ctx)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hierarchy_id, catch_all, state
		FROM state_rules ORDER BY hierarchy_id, state`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var hid commission.HierarchyID
		var rule commission.StateRule
		if err := rows.Scan(&rule.ID, &hid, &rule.CatchAll, &rule.State); err != nil {
			return err
		}
		rule.Splits = dists[rule.ID]
		i, ok := index[hid]
		if !ok {
			return fmt.Errorf("state rule references unknown hierarchy %s", hid)
		}
		if err := out[i].Version.Rules.Add(hid, rule); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) loadDistributions(ctx context.Context) (map[string][]commission.HierarchySplit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, product, level, broker, percent
		FROM split_distributions ORDER BY rule_id, product, level, broker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]commission.HierarchySplit)
	for rows.Next() {
		var rule string
		var product commission.ProductCode
		var dist commission.SplitDistribution
		var percent string
		if err := rows.Scan(&rule, &product, &dist.Level, &dist.Broker, &percent); err != nil {
			return nil, err
		}
		if dist.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, err
		}
		splits := out[rule]
		if n := len(splits); n == 0 || splits[n-1].Product != product {
			splits = append(splits, commission.HierarchySplit{Product: product})
		}
		splits[len(splits)-1].Distributions = append(splits[len(splits)-1].Distributions, dist)
		out[rule] = splits
	}
	return out, rows.Err()
}

// LoadAssignments returns the saved policy-to-proposal assignments.
func (s *Store) LoadAssignments(ctx context.Context) ([]commission.PolicyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT certificate_id, group_id, proposal_id, provenance
		FROM policy_assignments ORDER BY certificate_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.PolicyAssignment
	for rows.Next() {
		var a commission.PolicyAssignment
		if err := rows.Scan(&a.Certificate, &a.Group, &a.Proposal, &a.Provenance); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadExceptions returns the saved exception structures.
func (s *Store) LoadExceptions(ctx context.Context) ([]commission.PolicyHierarchyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT certificate_id, group_id, reason
		FROM exceptions ORDER BY certificate_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.PolicyHierarchyAssignment
	index := make(map[commission.CertificateID]int)
	for rows.Next() {
		var x commission.PolicyHierarchyAssignment
		if err := rows.Scan(&x.Certificate, &x.Group, &x.Reason); err != nil {
			return nil, err
		}
		index[x.Certificate] = len(out)
		out = append(out, x)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.QueryContext(ctx, `
		SELECT certificate_id, sequence, level, broker, percent, schedule
		FROM exception_participants ORDER BY certificate_id, sequence, level`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var cert commission.CertificateID
		var p commission.ExceptionParticipant
		var percent string
		if err := prows.Scan(&cert, &p.Sequence, &p.Level, &p.Broker, &percent, &p.Schedule); err != nil {
			return nil, err
		}
		if p.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, err
		}
		if i, ok := index[cert]; ok {
			out[i].Participants = append(out[i].Participants, p)
		}
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	lrows, err := s.db.QueryContext(ctx, `
		SELECT certificate_id, product, state_rule
		FROM exception_product_links ORDER BY certificate_id, product`)
	if err != nil {
		return nil, err
	}
	defer lrows.Close()

	for lrows.Next() {
		var cert commission.CertificateID
		var l commission.ProductRuleLink
		if err := lrows.Scan(&cert, &l.Product, &l.StateRule); err != nil {
			return nil, err
		}
		if i, ok := index[cert]; ok {
			out[i].ProductLinks = append(out[i].ProductLinks, l)
		}
	}
	return out, lrows.Err()
}

// LoadConformance returns the saved per-group conformance records.
func (s *Store) LoadConformance(ctx context.Context) ([]commission.ConformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, total, resolved, percentage, class
		FROM conformance ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.ConformanceRecord
	for rows.Next() {
		var r commission.ConformanceRecord
		var pct string
		if err := rows.Scan(&r.Group, &r.Total, &r.Resolved, &pct, &r.Class); err != nil {
			return nil, err
		}
		if r.Percentage, err = decimal.NewFromString(pct); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SCOPE ENCODING - comma-joined lists, NULL = wildcard
// =============================================================================

func joinProducts(codes []commission.ProductCode) sql.NullString {
	if codes == nil {
		return sql.NullString{}
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func joinPlans(codes []commission.PlanCode) sql.NullString {
	if codes == nil {
		return sql.NullString{}
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return sql.NullString{String: strings.Join(parts, ","), Valid: true}
}

func splitProducts(v sql.NullString) []commission.ProductCode {
	if !v.Valid {
		return nil
	}
	var out []commission.ProductCode
	for _, p := range strings.Split(v.String, ",") {
		if p != "" {
			out = append(out, commission.ProductCode(p))
		}
	}
	return out
}

func splitPlans(v sql.NullString) []commission.PlanCode {
	if !v.Valid {
		return nil
	}
	var out []commission.PlanCode
	for _, p := range strings.Split(v.String, ",") {
		if p != "" {
			out = append(out, commission.PlanCode(p))
		}
	}
	return out
}

func dateOrNull(d *commission.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
