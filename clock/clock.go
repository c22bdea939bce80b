// Package clock abstracts time so that the buffer cache's periodic
// write-back task can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by anything in the kernel core that needs
// to wait or schedule periodic work: the buffer cache flush daemon
// (spec §4.1) and its tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel on which the current time is sent once the
	// given duration has elapsed.
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &FakeClock{}
	_ Clock = &SimulatedClock{}
)
