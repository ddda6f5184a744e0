package clock

import (
	"sync"
	"time"
)

// Reading is the result of asking a world clock for the current time.
//
// The host may not have a simulated time yet (for example while a save is
// being loaded), so callers must check Valid before using the timestamp.
type Reading struct {
	at    time.Time
	valid bool
}

// At wraps a known world time.
func At(t time.Time) Reading {
	return Reading{at: t, valid: true}
}

// Unknown returns a reading without a time.
func Unknown() Reading {
	return Reading{}
}

// Get returns the timestamp and whether it is valid.
func (r Reading) Get() (time.Time, bool) {
	return r.at, r.valid
}

// Valid reports whether the reading carries a timestamp.
func (r Reading) Valid() bool { return r.valid }

// Or returns the timestamp or the fallback when the reading is unknown.
func (r Reading) Or(fallback time.Time) time.Time {
	if !r.valid {
		return fallback
	}
	return r.at
}

// WorldClock provides the current simulated time.
type WorldClock interface {
	CurrentTime() Reading
}

// SimClock is a manually driven world clock. It reports Unknown until Set is
// called.
type SimClock struct {
	mu    sync.RWMutex
	now   time.Time
	valid bool
}

// NewSimClock returns a clock without a current time.
func NewSimClock() *SimClock {
	return &SimClock{}
}

// NewSimClockAt returns a clock positioned at start.
func NewSimClockAt(start time.Time) *SimClock {
	return &SimClock{now: start, valid: true}
}

func (c *SimClock) CurrentTime() Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid {
		return Unknown()
	}
	return At(c.now)
}

// Set positions the clock at t.
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.valid = true
	c.mu.Unlock()
}

// Advance moves the clock forward by d. It is a no-op while the clock has no
// time.
func (c *SimClock) Advance(d time.Duration) Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return Unknown()
	}
	c.now = c.now.Add(d)
	return At(c.now)
}

// Clear drops the current time.
func (c *SimClock) Clear() {
	c.mu.Lock()
	c.now = time.Time{}
	c.valid = false
	c.mu.Unlock()
}
