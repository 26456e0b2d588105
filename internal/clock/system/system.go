// Package system is the process wall clock.
package system

import "time"

// Clock reads the wall clock in UTC, truncated to Precision. The default
// matches the microsecond resolution of Postgres timestamptz, so a time
// written to the run store compares equal after it is read back.
type Clock struct {
	Precision time.Duration
}

// New returns a Clock with microsecond precision. It implements
// crawler.Clock.
func New() Clock {
	return Clock{Precision: time.Microsecond}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.Precision > 0 {
		now = now.Truncate(c.Precision)
	}
	return now
}
