package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
)

// Runner produces the report for one execution request. The returned bytes are
// stored as the result output and should be JSON.
type Runner interface {
	Run(ctx context.Context, req *execution.Request) ([]byte, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, req *execution.Request) ([]byte, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, req *execution.Request) ([]byte, error) {
	return f(ctx, req)
}

// AcknowledgeRunner records that a report was requested without producing one.
// It stands in for the report engine until one is wired to the worker.
type AcknowledgeRunner struct{}

// Run returns a small JSON acknowledgement
func (AcknowledgeRunner) Run(_ context.Context, req *execution.Request) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"reportConfigId": req.ReportConfigID,
		"trigger":        req.Trigger,
		"acknowledgedAt": time.Now().UTC(),
	})
}
