// Package clock provides the time sources shards use to decide when a
// session has gone idle.
package clock

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Clock returns the current time as seen by the idle reaper.
type Clock interface {
	Now() time.Time
}

// Mode names a clock policy in configuration.
type Mode string

const (
	// ModeWall measures idleness in wall-clock time since the last packet was appended.
	ModeWall Mode = "wall"
	// ModeCapture measures idleness in capture time: the newest dispatched
	// packet timestamp is "now".
	ModeCapture Mode = "capture"
)

// ParseMode validates a configured clock mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWall, "":
		return ModeWall, nil
	case ModeCapture:
		return ModeCapture, nil
	default:
		return "", fmt.Errorf("unknown idle clock %q (want wall or capture)", s)
	}
}

// Wall is the process wall clock.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

// Capture tracks the largest capture timestamp observed so far. It is
// advanced by the dispatcher and read concurrently by every shard.
// Create it with NewCapture.
type Capture struct {
	nanos atomic.Int64
}

// unset marks a clock that has not observed any packet yet.
const unset = math.MinInt64

// NewCapture returns a capture clock that reads as the zero time until the
// first Observe.
func NewCapture() *Capture {
	c := &Capture{}
	c.nanos.Store(unset)
	return c
}

// Observe advances the clock to ts if ts is newer. Older timestamps are ignored,
// so the clock never moves backwards on out-of-order captures.
func (c *Capture) Observe(ts time.Time) {
	n := ts.UnixNano()
	for {
		cur := c.nanos.Load()
		if n <= cur || c.nanos.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (c *Capture) Now() time.Time {
	n := c.nanos.Load()
	if n == unset {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Fake is a manually driven clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
