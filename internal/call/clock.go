package call

import (
	"sync"
	"time"
)

// Clock supplies wall-clock time for display and a monotonic elapsed reading
// for durations. Ages are computed from Elapsed only.
type Clock interface {
	Now() time.Time
	Elapsed() time.Duration
}

type systemClock struct {
	start time.Time
}

// SystemClock reads the real clock. Elapsed uses the monotonic reading carried
// by time.Time, so it is unaffected by wall-clock or timezone changes.
func SystemClock() Clock {
	return systemClock{start: time.Now()}
}

func (c systemClock) Now() time.Time         { return time.Now() }
func (c systemClock) Elapsed() time.Duration { return time.Since(c.start) }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu      sync.Mutex
	wall    time.Time
	elapsed time.Duration
}

func NewManualClock(wall time.Time) *ManualClock {
	return &ManualClock{wall: wall}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

func (c *ManualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Advance moves both readings forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(d)
	c.elapsed += d
}

// SetWall changes only the wall clock, as a user changing the time would.
func (c *ManualClock) SetWall(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = t
}
