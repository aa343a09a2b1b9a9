// Package username allocates random display names for new accounts.
package username

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/deliberation-platform/identity/internal/domain"
)

var adjectives = []string{
	"Amber", "Bold", "Brave", "Bright", "Calm", "Clever", "Cosmic", "Crisp",
	"Daring", "Eager", "Gentle", "Golden", "Humble", "Jolly", "Keen", "Lively",
	"Lucky", "Mellow", "Nimble", "Noble", "Patient", "Quiet", "Rapid", "Silver",
	"Steady", "Sunny", "Swift", "Tidy", "Vivid", "Wise", "Witty", "Zesty",
}

var nouns = []string{
	"Badger", "Beacon", "Canyon", "Cedar", "Comet", "Falcon", "Fjord", "Glacier",
	"Harbor", "Heron", "Lantern", "Lynx", "Maple", "Meadow", "Otter", "Owl",
	"Panda", "Pebble", "Pine", "Quartz", "Raven", "Reef", "River", "Sparrow",
	"Summit", "Thistle", "Tiger", "Tundra", "Valley", "Willow", "Wren", "Yak",
}

// Checker reports whether a username is already in use.
type Checker interface {
	UsernameTaken(ctx context.Context, username string) (bool, error)
}

// Allocator draws candidate names until it finds one the Checker reports as
// free. The registration transaction re-checks uniqueness, so a name that is
// taken between Allocate and commit surfaces as a conflict.
type Allocator struct {
	checker     Checker
	maxAttempts int
	intN        func(n int) int
}

// NewAllocator creates an Allocator backed by the given Checker.
func NewAllocator(checker Checker) *Allocator {
	return &Allocator{
		checker:     checker,
		maxAttempts: domain.UsernameAllocAttempts,
		intN:        rand.Intn,
	}
}

// Allocate returns a username that is not taken at the time of the call.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for i := 0; i < a.maxAttempts; i++ {
		candidate := a.candidate()
		taken, err := a.checker.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("username: check %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("username: no free name after %d attempts: %w", a.maxAttempts, domain.ErrConflict)
}

func (a *Allocator) candidate() string {
	return fmt.Sprintf("%s%s%04d",
		adjectives[a.intN(len(adjectives))],
		nouns[a.intN(len(nouns))],
		a.intN(10000),
	)
}
