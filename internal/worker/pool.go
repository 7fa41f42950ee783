package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recovery"
)

// QueueReader is what the pool pulls work from
type QueueReader interface {
	Dequeue(ctx context.Context, priorities []execution.Priority) (*execution.Request, error)
	Fail(ctx context.Context, req *execution.Request, errMsg string) (bool, error)
}

// Pool runs a fixed number of workers pulling execution requests from the queue
type Pool struct {
	executor       *Executor
	queue          QueueReader
	concurrency    int
	requestTimeout time.Duration
	pollInterval   time.Duration
	priorities     []execution.Priority
	wg             sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
	activeWorkers  atomic.Int64
	maxBackoff     time.Duration
	log            logger.Logger
}

// NewPool creates a worker pool
func NewPool(executor *Executor, queue QueueReader, concurrency int, requestTimeout time.Duration) *Pool {
	return &Pool{
		executor:       executor,
		queue:          queue,
		concurrency:    concurrency,
		requestTimeout: requestTimeout,
		pollInterval:   500 * time.Millisecond,
		priorities:     []execution.Priority{execution.PriorityHigh, execution.PriorityNormal},
		stopChan:       make(chan struct{}),
		maxBackoff:     30 * time.Second,
		log:            logger.Default().WithComponent(logger.ComponentWorker),
	}
}

// SetPriorities sets which queues the workers drain, in order
func (p *Pool) SetPriorities(priorities []execution.Priority) {
	if len(priorities) > 0 {
		p.priorities = priorities
	}
}

// SetPollInterval sets how long an idle worker waits before polling again
func (p *Pool) SetPollInterval(d time.Duration) {
	p.pollInterval = d
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("Starting worker pool", "workers", p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
}

// Stop asks every worker to finish its current request and waits up to 30 seconds
func (p *Pool) Stop() {
	p.log.Info("Stopping worker pool")
	p.stopOnce.Do(func() { close(p.stopChan) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		p.log.Warn("Worker pool shutdown timed out", "timeout", "30s")
	}
}

// ActiveWorkers returns how many workers are running a request right now
func (p *Pool) ActiveWorkers() int64 {
	return p.activeWorkers.Load()
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	workerCtx := logger.WithWorkerID(ctx, fmt.Sprintf("worker-%d", workerID))
	p.log.DebugContext(workerCtx, "Worker started")

	consecutiveFailures := 0
	for {
		select {
		case <-p.stopChan:
			p.log.DebugContext(workerCtx, "Worker stopping")
			return
		case <-workerCtx.Done():
			p.log.DebugContext(workerCtx, "Worker stopping due to context cancellation")
			return
		default:
		}

		req, err := p.queue.Dequeue(workerCtx, p.priorities)
		if err != nil {
			if workerCtx.Err() != nil {
				return
			}
			consecutiveFailures++
			backoff := p.backoff(consecutiveFailures)

			// First three failures warn, then every tenth errors
			if consecutiveFailures <= 3 {
				p.log.WarnContext(workerCtx, "Queue error, retrying with backoff",
					"error", err, "consecutive_failures", consecutiveFailures, "backoff", backoff.String())
			} else if consecutiveFailures%10 == 0 {
				p.log.ErrorContext(workerCtx, "Persistent queue errors",
					"error", err, "consecutive_failures", consecutiveFailures, "backoff", backoff.String())
			}
			p.sleep(workerCtx, backoff)
			continue
		}

		if consecutiveFailures > 0 {
			p.log.InfoContext(workerCtx, "Queue connection recovered", "after_failures", consecutiveFailures)
			consecutiveFailures = 0
		}

		if req == nil {
			p.sleep(workerCtx, p.pollInterval)
			continue
		}

		p.executeWithTimeout(workerCtx, req)
	}
}

// backoff is min(2^failures seconds, maxBackoff)
func (p *Pool) backoff(failures int) time.Duration {
	if failures > 16 {
		return p.maxBackoff
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > p.maxBackoff {
		return p.maxBackoff
	}
	return d
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.stopChan:
	case <-ctx.Done():
	}
}

func (p *Pool) executeWithTimeout(ctx context.Context, req *execution.Request) {
	active := p.activeWorkers.Add(1)
	p.executor.metrics.RecordWorkerActivity(active, int64(p.concurrency))
	defer func() {
		active := p.activeWorkers.Add(-1)
		p.executor.metrics.RecordWorkerActivity(active, int64(p.concurrency))
	}()

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	// Executor panics (not runner panics, which it handles itself) must not kill the worker
	err := recovery.Do(func() error {
		return p.executor.Execute(reqCtx, req)
	})
	if pe, ok := recovery.AsPanic(err); ok {
		p.log.ErrorContext(ctx, "Executor panicked", "request_id", req.ID, "panic_value", pe.Value, "stack_trace", pe.Stacktrace)
		if _, failErr := p.queue.Fail(context.WithoutCancel(ctx), req, recovery.FormatPanicForLog(pe)); failErr != nil {
			p.log.ErrorContext(ctx, "Failed to mark panicked request as failed", "request_id", req.ID, "error", failErr)
		}
	}
}
