package services

import (
	"sort"
	"time"
)

// StreakState is the per-(user, project) streak summary.
type StreakState struct {
	Current int
	Highest int
	Last    *time.Time
}

// Advance applies one check-in on day to s:
//   - first check-in starts a streak of 1
//   - the day after the last one extends it
//   - the same day holds it (only reachable on unlimited projects)
//   - any other gap resets it to 1
//
// Highest never decreases and Last becomes day.
func Advance(s StreakState, day time.Time) StreakState {
	d := dayKey(day)
	if s.Last == nil {
		s.Current = 1
	} else {
		switch daysBetween(*s.Last, d) {
		case 1:
			s.Current++
		case 0:
			if s.Current == 0 {
				s.Current = 1
			}
		default:
			s.Current = 1
		}
	}
	if s.Current > s.Highest {
		s.Highest = s.Current
	}
	s.Last = &d
	return s
}

// Replay rebuilds a streak from a full check-in history in any order.
// An empty history yields the zero state.
func Replay(days []time.Time) StreakState {
	sorted := make([]time.Time, len(days))
	for i, d := range days {
		sorted[i] = dayKey(d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var s StreakState
	for _, d := range sorted {
		s = Advance(s, d)
	}
	return s
}
