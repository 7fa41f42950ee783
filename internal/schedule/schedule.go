// Package schedule binds recurrence rules to report configurations and tracks their
// next and last firing.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recurrence"
)

var (
	// ErrNotFound is returned by store operations on an unknown schedule id
	ErrNotFound = errors.New("schedule not found")

	// ErrClaimConflict is returned by Store.Claim when another process already
	// advanced the schedule past the expected run. The loser skips the schedule.
	ErrClaimConflict = errors.New("schedule already claimed for this run")
)

// Schedule is a recurrence rule bound to one report configuration
type Schedule struct {
	// ID is assigned at creation and never changes
	ID string
	// ReportConfigID references the report configuration to run; never interpreted here
	ReportConfigID string
	Rule           recurrence.Rule
	Enabled        bool
	// NextRun is nil when the schedule is disabled or the rule cannot fire
	NextRun *time.Time
	// LastFired is nil until the first firing
	LastFired *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a schedule and computes its first run from now
func New(reportConfigID string, rule recurrence.Rule, enabled bool, now time.Time) (*Schedule, error) {
	if reportConfigID == "" {
		return nil, fmt.Errorf("report config id cannot be empty")
	}
	if err := recurrence.Validate(rule); err != nil {
		return nil, err
	}

	s := &Schedule{
		ID:             uuid.New().String(),
		ReportConfigID: reportConfigID,
		Rule:           rule,
		Enabled:        enabled,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	s.recompute(now)
	return s, nil
}

// UpdateRule replaces the rule. An invalid rule leaves the schedule untouched.
func (s *Schedule) UpdateRule(rule recurrence.Rule, now time.Time) error {
	if err := recurrence.Validate(rule); err != nil {
		return err
	}
	s.Rule = rule
	s.UpdatedAt = now.UTC()
	s.recompute(now)
	return nil
}

// SetEnabled toggles the schedule. Enabling recomputes the next run from now,
// disabling clears it so due polling never selects the schedule.
func (s *Schedule) SetEnabled(enabled bool, now time.Time) {
	s.Enabled = enabled
	s.UpdatedAt = now.UTC()
	s.recompute(now)
}

// Fire records a firing at now and advances NextRun. The new NextRun is computed
// from the later of now and the previous NextRun, so successive values strictly increase.
func (s *Schedule) Fire(now time.Time) {
	fired := now.UTC()
	s.LastFired = &fired
	s.UpdatedAt = fired

	if !s.Enabled {
		s.NextRun = nil
		return
	}
	from := now
	if s.NextRun != nil && s.NextRun.After(from) {
		from = *s.NextRun
	}
	s.setNext(from)
}

// IsDue reports whether the schedule should fire at now
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextRun != nil && !s.NextRun.After(now)
}

// Describe renders the schedule's rule for display
func (s *Schedule) Describe() string {
	return recurrence.Describe(s.Rule)
}

// Clone returns a deep copy
func (s *Schedule) Clone() *Schedule {
	c := *s
	if s.NextRun != nil {
		next := *s.NextRun
		c.NextRun = &next
	}
	if s.LastFired != nil {
		last := *s.LastFired
		c.LastFired = &last
	}
	return &c
}

func (s *Schedule) recompute(now time.Time) {
	if !s.Enabled {
		s.NextRun = nil
		return
	}
	s.setNext(now)
}

func (s *Schedule) setNext(from time.Time) {
	next, ok := recurrence.Next(s.Rule, from)
	if !ok {
		s.NextRun = nil
		return
	}
	s.NextRun = &next
}

// record is the persisted form of a Schedule
type record struct {
	ID             string          `json:"id"`
	ReportConfigID string          `json:"reportConfigId"`
	Rule           recurrence.Spec `json:"rule"`
	Enabled        bool            `json:"enabled"`
	NextRun        *time.Time      `json:"nextRunDate,omitempty"`
	LastFired      *time.Time      `json:"lastFiredDate,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// MarshalJSON encodes the rule through its wire form
func (s *Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		ID:             s.ID,
		ReportConfigID: s.ReportConfigID,
		Rule:           recurrence.SpecOf(s.Rule),
		Enabled:        s.Enabled,
		NextRun:        s.NextRun,
		LastFired:      s.LastFired,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	})
}

// UnmarshalJSON decodes and re-validates the rule
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	rule, err := r.Rule.Rule()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", r.ID, err)
	}
	*s = Schedule{
		ID:             r.ID,
		ReportConfigID: r.ReportConfigID,
		Rule:           rule,
		Enabled:        r.Enabled,
		NextRun:        r.NextRun,
		LastFired:      r.LastFired,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	return nil
}
