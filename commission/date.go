package commission

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - day-granular point in time
// =============================================================================

// Date is a day-granular date in UTC. Proposal date ranges, certificate
// effective dates and hierarchy representative dates all use it; the
// time-of-day component of the raw snapshot is discarded on parse.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses the snapshot date format (ISO 8601, date portion).
// An un-parseable date is a fatal input error: grouping depends on it.
func ParseDate(raw string) (Date, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day()), nil
		}
	}
	return Date{}, &BadDateError{Raw: raw}
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date  { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddYears(n int) Date { return Date{t: d.t.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int  { return d.t.Year() }
func (d Date) IsZero() bool { return d.t.IsZero() }
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string { return d.t.Format("2006-01-02") }

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// =============================================================================
// DATE RANGE - [From, To] with open-ended support
// =============================================================================

// DateRange is an inclusive date range. A nil To means open-ended.
type DateRange struct {
	From Date
	To   *Date
}

// Contains reports whether the date falls inside the range.
func (r DateRange) Contains(d Date) bool {
	if d.Before(r.From) {
		return false
	}
	return r.To == nil || d.BeforeOrEqual(*r.To)
}

// OpenEnded reports whether the range has no end date.
func (r DateRange) OpenEnded() bool { return r.To == nil }

func (r DateRange) String() string {
	if r.To == nil {
		return fmt.Sprintf("[%s, open)", r.From)
	}
	return fmt.Sprintf("[%s, %s]", r.From, *r.To)
}
