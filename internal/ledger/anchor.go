package ledger

import "time"

// periodAnchor returns the start of the current billing period for a wallet
// whose reset day-of-month is anchorDay: the most recent occurrence of the
// anchor day at or before now. The day is clamped to the length of the month
// so a subscription started on the 31st still resets in February.
func periodAnchor(now time.Time, anchorDay int) time.Time {
	now = now.UTC()
	year, month, _ := now.Date()

	day := clampDay(year, month, anchorDay)
	if now.Day() < day {
		// Anchor day has not arrived this month; the period began on
		// last month's anchor day.
		prev := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
		py, pm, _ := prev.Date()
		return time.Date(py, pm, clampDay(py, pm, anchorDay), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// nextAnchor returns the start of the following billing period. Derived from
// the first of the next month rather than AddDate on the anchor itself, which
// would normalize Jan 31 into early March.
func nextAnchor(now time.Time, anchorDay int) time.Time {
	cur := periodAnchor(now, anchorDay)
	firstOfNext := time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	y, m, _ := firstOfNext.Date()
	return time.Date(y, m, clampDay(y, m, anchorDay), 0, 0, 0, 0, time.UTC)
}

func clampDay(year int, month time.Month, day int) int {
	last := daysInMonth(year, month)
	if day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
