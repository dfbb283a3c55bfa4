package model

import (
	"fmt"
	"time"
)

// Cadence is the recurrence class of a scheduled task.
type Cadence string

const (
	// CadenceDaily fires once a day at Hour:Minute.
	CadenceDaily Cadence = "daily"
	// CadenceMonthly fires once a month on DayOfMonth at Hour:Minute.
	CadenceMonthly Cadence = "monthly"
)

// Valid returns true if the Cadence is a known cadence.
func (c Cadence) Valid() bool {
	return c == CadenceDaily || c == CadenceMonthly
}

// ScheduledTask is a recurring calendar trigger that submits one job per
// firing. A firing that is missed while the process is down is skipped,
// never replayed: NextFireAfter always advances strictly past "now".
type ScheduledTask struct {
	ID          string     `db:"id"`
	TaskName    string     `db:"task_name"`
	JobKind     JobKind    `db:"job_kind"`
	Cadence     Cadence    `db:"cadence"`
	DayOfMonth  int        `db:"day_of_month"` // monthly only, 1-28
	Hour        int        `db:"hour"`
	Minute      int        `db:"minute"`
	NextFireAt  time.Time  `db:"next_fire_at"`
	LastFiredAt *time.Time `db:"last_fired_at"`
}

// Validate checks the slot fields against the cadence.
func (t *ScheduledTask) Validate() error {
	if !t.Cadence.Valid() {
		return fmt.Errorf("invalid cadence: %q", t.Cadence)
	}
	if !t.JobKind.Valid() {
		return fmt.Errorf("invalid job kind: %q", t.JobKind)
	}
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour out of range: %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute out of range: %d", t.Minute)
	}
	// Day 29-31 would silently skip short months; 1-28 fires every month.
	if t.Cadence == CadenceMonthly && (t.DayOfMonth < 1 || t.DayOfMonth > 28) {
		return fmt.Errorf("day of month out of range: %d", t.DayOfMonth)
	}
	return nil
}

// NextFireAfter returns the first calendar slot strictly after now.
// Slots between a missed firing and now are skipped (no catch-up).
func (t *ScheduledTask) NextFireAfter(now time.Time) time.Time {
	switch t.Cadence {
	case CadenceMonthly:
		next := time.Date(now.Year(), now.Month(), t.DayOfMonth, t.Hour, t.Minute, 0, 0, now.Location())
		if !next.After(now) {
			next = time.Date(now.Year(), now.Month()+1, t.DayOfMonth, t.Hour, t.Minute, 0, 0, now.Location())
		}
		return next
	case CadenceDaily:
		fallthrough
	default:
		next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}
