package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recurrence"
)

// Service implements the create/edit/toggle/delete operations consumed by the API layer
type Service struct {
	store Store
	clock Clock
}

// NewService creates a schedule service
func NewService(store Store, clock Clock) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{store: store, clock: clock}
}

// Create builds and stores a new schedule
func (svc *Service) Create(ctx context.Context, reportConfigID string, rule recurrence.Rule, enabled bool) (*Schedule, error) {
	s, err := New(reportConfigID, rule, enabled, svc.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := svc.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}
	return s, nil
}

// Get returns a schedule by id
func (svc *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	return svc.store.FindByID(ctx, id)
}

// UpdateRule replaces a schedule's rule and recomputes its next run
func (svc *Service) UpdateRule(ctx context.Context, id string, rule recurrence.Rule) (*Schedule, error) {
	if err := recurrence.Validate(rule); err != nil {
		return nil, err
	}
	s, err := svc.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateRule(rule, svc.clock.Now()); err != nil {
		return nil, err
	}
	if err := svc.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}
	return s, nil
}

// SetEnabled toggles a schedule
func (svc *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*Schedule, error) {
	s, err := svc.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.SetEnabled(enabled, svc.clock.Now())
	if err := svc.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}
	return s, nil
}

// Delete removes a schedule
func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.store.Delete(ctx, id)
}

// ListByReportConfig returns the schedules of one report configuration
func (svc *Service) ListByReportConfig(ctx context.Context, reportConfigID string) ([]*Schedule, error) {
	return svc.store.FindByReportConfig(ctx, reportConfigID)
}

// List returns every schedule
func (svc *Service) List(ctx context.Context) ([]*Schedule, error) {
	return svc.store.List(ctx)
}

// Preview returns the next n firing instants of a rule from now
func (svc *Service) Preview(rule recurrence.Rule, n int) ([]time.Time, error) {
	if err := recurrence.Validate(rule); err != nil {
		return nil, err
	}
	if n <= 0 || n > 50 {
		return nil, fmt.Errorf("preview count must be between 1 and 50, got %d", n)
	}
	return recurrence.NextN(rule, svc.clock.Now(), n), nil
}
