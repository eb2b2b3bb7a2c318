/*
errors.go - Centralized error types for the migration engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stage packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Data-integrity warnings - surfaced and routed, never fatal
  2. Classification ambiguity - reported by the conformance auditor
  3. Fatal input errors - abort the affected stage, prior outputs intact

USAGE:
    if errors.Is(err, commission.ErrBadDate) {
        // abort the stage, leave earlier outputs untouched
    }
*/
package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBadDate is returned when a snapshot date cannot be parsed.
	// Grouping depends on dates, so this aborts the extraction stage.
	ErrBadDate = errors.New("unparseable effective date")

	// ErrPercentSum is returned when a leg's split percentages do not
	// sum to 100. Surfaced, routed to the exception path, never corrected.
	ErrPercentSum = errors.New("split percentages do not sum to 100")

	// ErrMissingBroker is returned when a split references a broker
	// absent from the broker master list.
	ErrMissingBroker = errors.New("broker not in master list")

	// ErrStateRuleConflict is returned when a catch-all state rule would
	// coexist with per-state rules on the same hierarchy version.
	ErrStateRuleConflict = errors.New("catch-all state rule conflicts with per-state rules")

	// ErrNoProposal is returned when a group has no proposal to fall
	// back to during policy resolution.
	ErrNoProposal = errors.New("group has no proposal")

	// ErrStageFailed wraps a stage abort so the orchestrator can report
	// which outputs remain valid.
	ErrStageFailed = errors.New("pipeline stage failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BadDateError reports the raw value that failed to parse.
type BadDateError struct {
	Raw string
}

func (e *BadDateError) Error() string { return fmt.Sprintf("unparseable effective date %q", e.Raw) }
func (e *BadDateError) Unwrap() error { return ErrBadDate }

// PercentSumError reports a split chain whose percentages are off.
type PercentSumError struct {
	Certificate CertificateID
	Group       GroupID
	Sequence    int
	Sum         decimal.Decimal
}

func (e *PercentSumError) Error() string {
	return fmt.Sprintf("certificate %s group %s seq %d: split percentages sum to %s, want 100",
		e.Certificate, e.Group, e.Sequence, e.Sum)
}

func (e *PercentSumError) Unwrap() error { return ErrPercentSum }

// MissingBrokerError reports a broker reference absent from the master.
type MissingBrokerError struct {
	Broker      BrokerID
	Certificate CertificateID
}

func (e *MissingBrokerError) Error() string {
	return fmt.Sprintf("certificate %s references unknown broker %s", e.Certificate, e.Broker)
}

func (e *MissingBrokerError) Unwrap() error { return ErrMissingBroker }

// StateRuleConflictError reports the hierarchy version where a catch-all
// and per-state rules would coexist.
type StateRuleConflictError struct {
	Hierarchy HierarchyID
}

func (e *StateRuleConflictError) Error() string {
	return fmt.Sprintf("hierarchy %s: catch-all state rule conflicts with per-state rules", e.Hierarchy)
}

func (e *StateRuleConflictError) Unwrap() error { return ErrStateRuleConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDataWarning reports whether the error is a data-integrity warning
// (logged and routed to the exception path) rather than a stage abort.
func IsDataWarning(err error) bool {
	return errors.Is(err, ErrPercentSum) || errors.Is(err, ErrMissingBroker)
}

// IsFatal reports whether the error must abort the current stage.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadDate) || errors.Is(err, ErrStageFailed)
}
