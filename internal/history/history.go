// Package history records execution results per report configuration.
package history

import (
	"context"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
)

// Store records execution results and serves them back
type Store interface {
	// Record stores a result and notifies anyone waiting on it
	Record(ctx context.Context, result *execution.Result) error

	// Get returns the result of a request, or nil if none is recorded (yet)
	Get(ctx context.Context, requestID string) (*execution.Result, error)

	// WaitForResult blocks until the result exists or timeout elapses.
	// It returns nil and no error on timeout.
	WaitForResult(ctx context.Context, requestID string, timeout time.Duration) (*execution.Result, error)

	// ListByReportConfig returns up to limit results of a report configuration, newest first
	ListByReportConfig(ctx context.Context, reportConfigID string, limit int) ([]*execution.Result, error)

	// Delete removes a result; deleting an unknown result is not an error
	Delete(ctx context.Context, requestID string) error
}
