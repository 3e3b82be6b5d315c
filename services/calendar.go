package services

import (
	"strings"
	"time"
)

// CalendarDay is the reference day a request operates on. Date is the local
// calendar date normalised to 00:00 UTC (the value persisted and compared for
// streaks); Start and End are the UTC instants of local midnight and the next
// local midnight, used to query check-in timestamps.
type CalendarDay struct {
	Date  time.Time
	Start time.Time
	End   time.Time
}

// ReferenceDay computes the calendar day containing now in loc.
// Start/End are derived with time.Date so DST days are 23 or 25 hours long.
func ReferenceDay(now time.Time, loc *time.Location) CalendarDay {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return CalendarDay{
		Date:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc).UTC(),
		End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC(),
	}
}

// Contains reports whether instant t falls inside the day.
func (c CalendarDay) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// LoadLocation resolves an IANA zone name, falling back when it is empty or unknown.
func LoadLocation(name string, fallback *time.Location) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// dayKey truncates t to its calendar date at 00:00 UTC, keeping t's own date fields.
func dayKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole-day distance from a to b.
func daysBetween(a, b time.Time) int {
	return int(dayKey(b).Sub(dayKey(a)).Hours() / 24)
}
