// Package clock is the process-wide time source all timestamp arithmetic goes
// through. Production code uses clockwork.NewRealClock(); tests inject a
// clockwork.FakeClock and advance it deterministically.
package clock

import "github.com/jonboulle/clockwork"

// Clock is the interface we use for time operations.
type Clock = clockwork.Clock

// NowMs returns the clock's current time in Unix milliseconds, the unit all
// drift math is done in.
func NowMs(c Clock) int64 {
	return c.Now().UnixMilli()
}
