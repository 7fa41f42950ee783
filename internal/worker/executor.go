// Package worker runs queued execution requests through a Runner.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/metrics"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recovery"
)

// Queue is the part of the queue the executor settles requests with
type Queue interface {
	Complete(ctx context.Context, req *execution.Request) error
	Fail(ctx context.Context, req *execution.Request, errMsg string) (retrying bool, err error)
}

// Executor runs one request and settles it in the queue and the history
type Executor struct {
	runner  Runner
	queue   Queue
	history history.Store
	metrics *metrics.Collector
	log     logger.Logger
}

// NewExecutor creates an executor. history may be nil.
func NewExecutor(runner Runner, queue Queue, hist history.Store) *Executor {
	return &Executor{
		runner:  runner,
		queue:   queue,
		history: hist,
		metrics: metrics.Default(),
		log:     logger.Default().WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceExecution),
	}
}

// SetMetrics replaces the metrics collector
func (e *Executor) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// SetLogger replaces the executor's logger
func (e *Executor) SetLogger(l logger.Logger) {
	e.log = l.WithComponent(logger.ComponentWorker).WithSource(logger.LogSourceExecution)
}

// Execute runs req. A failed attempt is retried by the queue until the retry
// budget is spent; only the final outcome is written to the history.
func (e *Executor) Execute(ctx context.Context, req *execution.Request) error {
	ctx = logger.WithRequestID(ctx, req.ID)
	e.metrics.RecordExecutionStarted(req.Trigger)
	e.log.InfoContext(ctx, "Executing report",
		"report_config_id", req.ReportConfigID, "trigger", req.Trigger, "attempt", req.Attempts+1)

	start := time.Now()
	var output []byte
	runErr := recovery.Do(func() error {
		var err error
		output, err = e.runner.Run(ctx, req)
		return err
	})
	duration := time.Since(start)

	if runErr != nil {
		return e.fail(ctx, req, runErr, duration)
	}

	// Settle on a fresh context so a request that finished right at its deadline is still recorded
	settleCtx := context.WithoutCancel(ctx)
	if err := e.queue.Complete(settleCtx, req); err != nil {
		e.metrics.RecordExecutionFailed(duration)
		return fmt.Errorf("report ran but failed to complete request: %w", err)
	}
	e.record(settleCtx, execution.NewResult(req, execution.StatusCompleted, output, "", time.Now(), duration))
	e.metrics.RecordExecutionCompleted(duration)

	e.log.InfoContext(ctx, "Report completed", "duration", duration.String())
	return nil
}

func (e *Executor) fail(ctx context.Context, req *execution.Request, runErr error, duration time.Duration) error {
	errMsg := runErr.Error()
	if p, ok := recovery.AsPanic(runErr); ok {
		errMsg = recovery.FormatPanicForLog(p)
		e.log.ErrorContext(ctx, "Report runner panicked", "panic_value", p.Value, "stack_trace", p.Stacktrace)
	} else if ctx.Err() != nil {
		errMsg = fmt.Sprintf("execution cancelled: %v", ctx.Err())
	}

	settleCtx := context.WithoutCancel(ctx)
	e.metrics.RecordExecutionFailed(duration)

	retrying, err := e.queue.Fail(settleCtx, req, errMsg)
	if err != nil {
		e.log.ErrorContext(ctx, "Failed to mark request as failed", "error", err)
	}
	if !retrying {
		e.record(settleCtx, execution.NewResult(req, execution.StatusFailed, nil, errMsg, time.Now(), duration))
	}

	e.log.ErrorContext(ctx, "Report failed", "error", errMsg, "retrying", retrying, "duration", duration.String())
	return fmt.Errorf("report %s failed: %w", req.ReportConfigID, runErr)
}

func (e *Executor) record(ctx context.Context, result *execution.Result) {
	if e.history == nil {
		return
	}
	if err := e.history.Record(ctx, result); err != nil {
		e.log.ErrorContext(ctx, "Failed to record execution result", "error", err)
	}
}
