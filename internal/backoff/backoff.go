// Package backoff schedules reconnect attempts.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes how reconnect attempts are spaced. The delay starts at
// Initial and doubles after every attempt, capped at Max.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	// Attempts limits the number of attempts. Zero never gives up.
	Attempts int
	// NoJitter makes delays exact.
	NoJitter bool
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Schedule hands out the delays of one reconnect run. It is not safe for
// concurrent use.
type Schedule struct {
	policy  Policy
	attempt int
	base    time.Duration
	rng     *rand.Rand
}

// Start begins a reconnect run. A nil rng seeds one from the clock.
func (p Policy) Start(rng *rand.Rand) *Schedule {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Schedule{policy: p, base: p.Initial, rng: rng}
}

// Next returns the delay before the next attempt, or false once the
// attempts are used up. With jitter the delay lies between half and all of
// the nominal delay.
func (s *Schedule) Next() (time.Duration, bool) {
	if s.policy.Attempts > 0 && s.attempt >= s.policy.Attempts {
		return 0, false
	}
	s.attempt++

	d := s.base
	if d < 0 {
		d = 0
	}
	if s.base < math.MaxInt64/2 {
		s.base *= 2
	}
	if s.policy.Max > 0 && s.base > s.policy.Max {
		s.base = s.policy.Max
	}

	if !s.policy.NoJitter && d > 1 {
		half := d / 2
		d = half + time.Duration(s.rng.Int63n(int64(d-half)+1))
	}
	return d, true
}

// Attempt returns the number of delays handed out so far.
func (s *Schedule) Attempt() int { return s.attempt }
