package execution

import (
	"encoding/json"
	"time"
)

// Result is the outcome of one execution request
type Result struct {
	RequestID      string  `json:"requestId"`
	ReportConfigID string  `json:"reportConfigId"`
	ScheduleID     string  `json:"scheduleId,omitempty"`
	Trigger        Trigger `json:"trigger"`
	// Status is either completed or failed
	Status Status `json:"status"`
	// Output is whatever the report runner returned, for successful runs only
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
	Duration    time.Duration   `json:"duration"`
}

// NewResult creates a result for req
func NewResult(req *Request, status Status, output []byte, errMsg string, completedAt time.Time, duration time.Duration) *Result {
	return &Result{
		RequestID:      req.ID,
		ReportConfigID: req.ReportConfigID,
		ScheduleID:     req.ScheduleID,
		Trigger:        req.Trigger,
		Status:         status,
		Output:         output,
		Error:          errMsg,
		CompletedAt:    completedAt.UTC(),
		Duration:       duration,
	}
}

// IsSuccess returns true if the report ran successfully
func (r *Result) IsSuccess() bool {
	return r.Status == StatusCompleted
}

// IsFailed returns true if the execution failed
func (r *Result) IsFailed() bool {
	return r.Status == StatusFailed
}

// UnmarshalOutput decodes the runner output into dest.
// Returns a *ResultError if the execution failed.
func (r *Result) UnmarshalOutput(dest interface{}) error {
	if r.IsFailed() {
		return &ResultError{Message: r.Error}
	}
	if len(r.Output) == 0 {
		return nil
	}
	return json.Unmarshal(r.Output, dest)
}

// ResultError carries the failure message of a failed execution
type ResultError struct {
	Message string
}

func (e *ResultError) Error() string {
	return e.Message
}
