// Package execution defines the report execution requests handed from the
// scheduler to the workers, and the results they record.
package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current status of an execution request
type Status string

const (
	// StatusPending indicates the request is waiting for a worker
	StatusPending Status = "pending"
	// StatusProcessing indicates a worker is running the report
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the report ran successfully
	StatusCompleted Status = "completed"
	// StatusFailed indicates the request failed and will not be retried
	StatusFailed Status = "failed"
	// StatusRetrying indicates the request failed and waits for another attempt
	StatusRetrying Status = "retrying"
)

// Trigger records why an execution was requested
type Trigger string

const (
	// TriggerScheduled marks requests created by the scheduler loop
	TriggerScheduled Trigger = "scheduled"
	// TriggerManual marks requests created by a user asking for an immediate run
	TriggerManual Trigger = "manual"
)

// Priority represents the queue a request is placed on
type Priority string

const (
	// PriorityHigh is used for manual runs, which a user is waiting on
	PriorityHigh Priority = "high"
	// PriorityNormal is used for scheduled runs
	PriorityNormal Priority = "normal"
)

// DefaultMaxRetries is the retry budget of a new request
const DefaultMaxRetries = 3

// Request asks a worker to run one report configuration
type Request struct {
	ID             string `json:"id"`
	ReportConfigID string `json:"reportConfigId"`
	// ScheduleID is empty for manual runs
	ScheduleID string   `json:"scheduleId,omitempty"`
	Trigger    Trigger  `json:"trigger"`
	Priority   Priority `json:"priority"`
	// ScheduledFor is the firing instant that produced a scheduled request
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxRetries   int        `json:"maxRetries"`
	Error        string     `json:"error,omitempty"`
	// RetryAt is set while a failed request waits in the retry set
	RetryAt   *time.Time `json:"retryAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// NewScheduled creates the request for a schedule that fired at scheduledFor
func NewScheduled(reportConfigID, scheduleID string, scheduledFor, now time.Time) *Request {
	r := newRequest(reportConfigID, TriggerScheduled, PriorityNormal, now)
	r.ScheduleID = scheduleID
	at := scheduledFor.UTC()
	r.ScheduledFor = &at
	return r
}

// NewManual creates the request for an immediate, user-initiated run
func NewManual(reportConfigID string, now time.Time) *Request {
	return newRequest(reportConfigID, TriggerManual, PriorityHigh, now)
}

func newRequest(reportConfigID string, trigger Trigger, priority Priority, now time.Time) *Request {
	return &Request{
		ID:             uuid.New().String(),
		ReportConfigID: reportConfigID,
		Trigger:        trigger,
		Priority:       priority,
		Status:         StatusPending,
		MaxRetries:     DefaultMaxRetries,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
}

// Validate checks the fields a worker relies on
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("execution request id cannot be empty")
	}
	if r.ReportConfigID == "" {
		return fmt.Errorf("execution request %s has no report config id", r.ID)
	}
	switch r.Priority {
	case PriorityHigh, PriorityNormal:
	default:
		return fmt.Errorf("execution request %s has unknown priority %q", r.ID, r.Priority)
	}
	return nil
}

// UpdateStatus updates the request's status and UpdatedAt timestamp
func (r *Request) UpdateStatus(status Status) {
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
}

// CanRetry reports whether another attempt is allowed
func (r *Request) CanRetry() bool {
	return r.Attempts < r.MaxRetries
}
