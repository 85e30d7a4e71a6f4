package model

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used in logs, keys and warnings.
const DateLayout = "2006-01-02"

// Day returns the calendar date y-m-d at midnight UTC.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayOf truncates t to its calendar date at midnight UTC.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to the calendar date of t.
func DatePtr(t time.Time) *time.Time {
	d := DayOf(t)
	return &d
}

// AddDays returns a pointer to the date n days after d.
func AddDays(d time.Time, n int) *time.Time {
	return DatePtr(DayOf(d).AddDate(0, 0, n))
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)).Hours() / 24)
}

// SameDay reports whether two optional dates are both set and equal.
func SameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	return DayOf(*a).Equal(DayOf(*b))
}

// FormatDate renders an optional date, or "nodate" when absent.
func FormatDate(d *time.Time) string {
	if d == nil {
		return "nodate"
	}
	return d.Format(DateLayout)
}

// ReferenceDateSet holds the anchor dates known for one document. It is read
// only for the duration of a run.
type ReferenceDateSet struct {
	Ictus              *time.Time  `json:"ictus,omitempty"`
	Admission          *time.Time  `json:"admission,omitempty"`
	Discharge          *time.Time  `json:"discharge,omitempty"`
	FirstProcedureDate *time.Time  `json:"first_procedure_date,omitempty"`
	AllProcedureDates  []time.Time `json:"all_procedure_dates,omitempty"`
}

// YearHint returns the year used to complete dates written without one:
// the admission year, else the ictus year, else 0.
func (r ReferenceDateSet) YearHint() int {
	if r.Admission != nil {
		return r.Admission.Year()
	}
	if r.Ictus != nil {
		return r.Ictus.Year()
	}
	return 0
}

// Validate reports inconsistencies in the set. The set is never corrected;
// callers surface the warnings for review.
func (r ReferenceDateSet) Validate() []string {
	var warnings []string
	if r.Admission != nil && r.Discharge != nil && r.Discharge.Before(*r.Admission) {
		warnings = append(warnings, fmt.Sprintf("discharge %s is before admission %s",
			r.Discharge.Format(DateLayout), r.Admission.Format(DateLayout)))
	}
	if r.Ictus != nil && r.Admission != nil && r.Ictus.After(*r.Admission) {
		warnings = append(warnings, fmt.Sprintf("ictus %s is after admission %s",
			r.Ictus.Format(DateLayout), r.Admission.Format(DateLayout)))
	}
	if r.FirstProcedureDate != nil && r.Admission != nil && r.FirstProcedureDate.Before(*r.Admission) {
		warnings = append(warnings, fmt.Sprintf("first procedure %s is before admission %s",
			r.FirstProcedureDate.Format(DateLayout), r.Admission.Format(DateLayout)))
	}
	return warnings
}
