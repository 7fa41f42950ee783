package schedule

import (
	"context"
	"sync"
	"time"
)

// Store persists schedules. Implementations live in internal/store.
type Store interface {
	// Save inserts or replaces a schedule
	Save(ctx context.Context, s *Schedule) error

	// FindByID returns ErrNotFound for unknown ids
	FindByID(ctx context.Context, id string) (*Schedule, error)

	// Delete returns ErrNotFound for unknown ids
	Delete(ctx context.Context, id string) error

	// FindDue returns enabled schedules whose NextRun is at or before now, in no particular order
	FindDue(ctx context.Context, now time.Time) ([]*Schedule, error)

	// FindByReportConfig returns every schedule owned by a report configuration
	FindByReportConfig(ctx context.Context, reportConfigID string) ([]*Schedule, error)

	// List returns all schedules
	List(ctx context.Context) ([]*Schedule, error)

	// Claim persists an already-fired schedule only if the stored NextRun still equals
	// expectedNextRun. It returns ErrClaimConflict when another caller got there first
	// and ErrNotFound when the schedule was deleted.
	Claim(ctx context.Context, fired *Schedule, expectedNextRun time.Time) error
}

// Clock provides the current instant
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns the current UTC instant
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a Clock that only moves when told to
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock stopped at now
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now.UTC()}
}

// Now returns the current manual instant
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
