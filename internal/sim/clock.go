package sim

import "time"

// Clock supplies the simulation's notion of "now", one reading per
// tick. The wall clock drives production; tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
