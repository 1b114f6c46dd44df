package domain

import "time"

// windowHours is the number of complete hour buckets covered by one fetch.
const windowHours = 24

// Window is a half-open-by-hour fetch range. From and To are both
// hour-aligned UTC; the upstream readings query is inclusive of both ends,
// so the window spans exactly 24 buckets.
type Window struct {
	From time.Time
	To   time.Time
}

// WindowEnding returns the trailing fetch window for the given wall clock.
// The still-accumulating current hour is always excluded: for now=14:37 the
// latest bucket in the window is 13:00.
func WindowEnding(now time.Time) Window {
	to := now.UTC().Truncate(time.Hour).Add(-time.Hour)
	return Window{
		From: to.Add(-(windowHours - 1) * time.Hour),
		To:   to,
	}
}

// Contains reports whether an hour bucket falls inside the window.
func (w Window) Contains(hour time.Time) bool {
	return !hour.Before(w.From) && !hour.After(w.To)
}
