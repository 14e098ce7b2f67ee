// Package system provides the wall clock used for archive and event timestamps.
package system

import "time"

// Clock implements archive.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, the zone every stored timestamp uses.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
