package ingest

import "time"

// Window is the day-granularity inclusion policy shared by both
// fetchers: daysBack+1 consecutive local calendar dates ending at
// "today". daysBack = 0 admits today only.
type Window struct {
	today    time.Time
	daysBack int
}

// NewWindow builds a window anchored at now's local calendar date.
// Negative daysBack clamps to 0.
func NewWindow(now time.Time, daysBack int) Window {
	if daysBack < 0 {
		daysBack = 0
	}
	y, m, d := now.Local().Date()
	return Window{
		today:    time.Date(y, m, d, 0, 0, 0, 0, time.Local),
		daysBack: daysBack,
	}
}

// Contains reports whether t's local calendar date falls inside the
// window. Only the date part matters.
func (w Window) Contains(t time.Time) bool {
	y, m, d := t.Local().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	return !day.After(w.today) && !day.Before(w.Oldest())
}

// Oldest returns the earliest admissible calendar date.
func (w Window) Oldest() time.Time {
	return w.today.AddDate(0, 0, -w.daysBack)
}
