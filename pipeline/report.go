/*
report.go - Per-run accounting

PURPOSE:
  The run report is the operator's view of a migration: what each stage
  produced, how long it took and how many data-integrity findings it
  raised. Logged after every run and exposed over the inspection API.
*/
package pipeline

import "time"

// RunReport aggregates per-stage accounting for one run.
type RunReport struct {
	Started  time.Time
	Finished time.Time
	Stages   []StageReport
}

// StageReport is one stage's accounting line.
type StageReport struct {
	Name     string
	Duration time.Duration
	Outputs  int
	Warnings int
}

func newRunReport() *RunReport {
	return &RunReport{Started: time.Now()}
}

// finish appends the stage line, deriving counts from the stage's owned
// Results fields.
func (r *RunReport) finish(name string, started time.Time, res *Results) StageReport {
	sr := StageReport{Name: name, Duration: time.Since(started)}

	switch name {
	case "extract":
		sr.Outputs = len(res.Legs)
		sr.Warnings = len(res.Warnings)
	case "filter":
		sr.Outputs = len(res.Partition.Conformant)
		sr.Warnings = len(res.Partition.FlaggedKeys)
	case "classify":
		sr.Outputs = len(res.Proposals)
	case "hierarchy":
		sr.Outputs = len(res.Hierarchies)
	case "resolve":
		sr.Outputs = len(res.Assignments)
		sr.Warnings = len(res.Unresolved)
	case "exceptions":
		sr.Outputs = len(res.Exceptions)
	case "audit":
		sr.Outputs = len(res.Conformance)
		sr.Warnings = len(res.Ambiguous)
	}

	r.Stages = append(r.Stages, sr)
	return sr
}
