package vnc

import "time"

// Clock abstracts time so polling loops are unit-testable without real
// delays.
type Clock interface {
	Now() time.Time
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock used outside tests.
var SystemClock Clock = systemClock{}
