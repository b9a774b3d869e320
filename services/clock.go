package services

import "time"

// Clock provides times.
type Clock interface {
	// Now returns current UTC time.
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns current UTC time.
func (c SystemClock) Now() time.Time {
	return time.Now().UTC()
}
