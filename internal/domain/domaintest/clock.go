// Package domaintest holds fixtures shared by tests of packages that depend
// on domain. Nothing here is linked into the service binaries.
package domaintest

import (
	"sync"
	"time"

	"github.com/deliberation-platform/identity/internal/domain"
)

var _ domain.Clock = (*ManualClock)(nil)

// ManualClock only moves when a test moves it. Code lifetimes, throttle
// windows and session expiries are all derived from one shared instance, so
// a test steps the clock rather than building a second one.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance steps the clock by d. A negative d steps it back.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps to at, typically an expiry or throttle boundary under test.
func (c *ManualClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}
