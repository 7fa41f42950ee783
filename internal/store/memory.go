// Package store provides schedule.Store implementations backed by memory, Redis and SQL.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

// MemoryStore keeps schedules in a map. Values are copied in and out so callers
// never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]*schedule.Schedule
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules: make(map[string]*schedule.Schedule),
	}
}

// Save inserts or replaces a schedule
func (m *MemoryStore) Save(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s.Clone()
	return nil
}

// FindByID returns a copy of the schedule
func (m *MemoryStore) FindByID(_ context.Context, id string) (*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.schedules[id]
	if !exists {
		return nil, schedule.ErrNotFound
	}
	return s.Clone(), nil
}

// Delete removes a schedule
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.schedules[id]; !exists {
		return schedule.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

// FindDue returns enabled schedules whose next run is at or before now
func (m *MemoryStore) FindDue(_ context.Context, now time.Time) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	due := make([]*schedule.Schedule, 0)
	for _, s := range m.schedules {
		if s.IsDue(now) {
			due = append(due, s.Clone())
		}
	}
	return due, nil
}

// FindByReportConfig returns the schedules of one report configuration, oldest first
func (m *MemoryStore) FindByReportConfig(_ context.Context, reportConfigID string) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schedule.Schedule, 0)
	for _, s := range m.schedules {
		if s.ReportConfigID == reportConfigID {
			out = append(out, s.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

// List returns every schedule, oldest first
func (m *MemoryStore) List(_ context.Context) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*schedule.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s.Clone())
	}
	sortByCreation(out)
	return out, nil
}

// Claim swaps in the fired schedule if the stored next run is still expectedNextRun
func (m *MemoryStore) Claim(_ context.Context, fired *schedule.Schedule, expectedNextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.schedules[fired.ID]
	if !exists {
		return schedule.ErrNotFound
	}
	if !current.Enabled || current.NextRun == nil || !current.NextRun.Equal(expectedNextRun) {
		return schedule.ErrClaimConflict
	}
	m.schedules[fired.ID] = fired.Clone()
	return nil
}

func sortByCreation(schedules []*schedule.Schedule) {
	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
			return schedules[i].ID < schedules[j].ID
		}
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
}

var _ schedule.Store = (*MemoryStore)(nil)
