// Package deadline implements the legal deadline arithmetic of the
// access-to-information law: business days are Monday to Friday and no
// holiday calendar is consulted.
package deadline

import "time"

const (
	// InitialBusinessDays is the answer window counted from the filing instant.
	InitialBusinessDays = 20
	// ExtensionBusinessDays is added to the current deadline on prorrogação.
	ExtensionBusinessDays = 10
	// AppealCalendarDays is the decision window of an appeal. Calendar days.
	AppealCalendarDays = 5
	// NearDeadlineCalendarDays flags open requests in the admin dashboard.
	NearDeadlineCalendarDays = 15
)

// IsBusinessDay reports whether t falls on Monday through Friday in its own location.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// AddBusinessDays returns the instant n business days after start, keeping
// the time of day. n <= 0 returns start unchanged.
func AddBusinessDays(start time.Time, n int) time.Time {
	current := start
	counted := 0
	for counted < n {
		current = current.AddDate(0, 0, 1)
		if IsBusinessDay(current) {
			counted++
		}
	}
	return current
}

// AddCalendarDays shifts start by n calendar days.
func AddCalendarDays(start time.Time, n int) time.Time {
	return start.AddDate(0, 0, n)
}

// BusinessDaysBetween counts business days in (from, to] by calendar date.
func BusinessDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	count := 0
	day := from
	for {
		day = day.AddDate(0, 0, 1)
		if dateAfter(day, to) {
			break
		}
		if IsBusinessDay(day) {
			count++
		}
	}
	return count
}

func dateAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
