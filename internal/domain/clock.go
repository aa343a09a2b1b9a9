package domain

import "time"

// Clock provides the current time. Implementations may be real (production)
// or deterministic (testing).
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// NowSeconds returns the clock's current UTC time truncated to whole seconds.
// Authentication flows read it once per request and reuse the value, so that
// equality checks between stored timestamps (expiry == sent + lifetime) survive
// a round trip through storage.
func NowSeconds(c Clock) time.Time {
	return c.Now().UTC().Truncate(time.Second)
}

// SessionExpiryFrom returns the session expiry granted on a successful login.
// Sessions are effectively unbounded and end only through logout.
func SessionExpiryFrom(now time.Time) time.Time {
	return now.AddDate(SessionLifetimeYears, 0, 0)
}

// Ensure RealClock implements Clock at compile time.
var _ Clock = RealClock{}
