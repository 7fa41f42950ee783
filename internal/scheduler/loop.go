// Package scheduler polls the schedule store and turns due schedules into
// execution requests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/history"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/logger"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/metrics"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recovery"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

// State is the lifecycle state of a Loop
type State int32

const (
	// StateIdle means the loop is not polling
	StateIdle State = iota
	// StatePolling means the loop ticks on its interval
	StatePolling
)

func (s State) String() string {
	if s == StatePolling {
		return "polling"
	}
	return "idle"
}

// Queue accepts execution requests for the workers
type Queue interface {
	Enqueue(ctx context.Context, req *execution.Request) error
}

// retryMover is implemented by queues with a delayed retry set
type retryMover interface {
	MoveRetriesToReady(ctx context.Context) (int, error)
}

// ExecutionRequestFailedError reports a claimed schedule whose execution request
// could not be enqueued. The schedule has already advanced past this run.
type ExecutionRequestFailedError struct {
	ScheduleID     string
	ReportConfigID string
	ScheduledFor   time.Time
	Err            error
}

func (e *ExecutionRequestFailedError) Error() string {
	return fmt.Sprintf("execution request for schedule %s (report config %s, run %s) failed: %v",
		e.ScheduleID, e.ReportConfigID, e.ScheduledFor.Format(time.RFC3339), e.Err)
}

func (e *ExecutionRequestFailedError) Unwrap() error {
	return e.Err
}

// Loop fires due schedules on a fixed interval
type Loop struct {
	store    schedule.Store
	queue    Queue
	clock    schedule.Clock
	interval time.Duration
	history  history.Store
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	log      logger.Logger

	leaseClient *redis.Client
	leaseKey    string
	leaseTTL    time.Duration

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates an idle loop polling store every interval
func NewLoop(store schedule.Store, queue Queue, interval time.Duration) *Loop {
	return &Loop{
		store:    store,
		queue:    queue,
		clock:    schedule.SystemClock{},
		interval: interval,
		metrics:  metrics.Default(),
		log:      logger.Default().WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal),
	}
}

// SetClock replaces the clock used to decide what is due
func (l *Loop) SetClock(clock schedule.Clock) {
	l.clock = clock
}

// SetHistory makes failed execution requests visible in the execution history
func (l *Loop) SetHistory(h history.Store) {
	l.history = h
}

// SetMetrics replaces the metrics collector
func (l *Loop) SetMetrics(c *metrics.Collector) {
	l.metrics = c
}

// SetLogger replaces the loop's logger
func (l *Loop) SetLogger(log logger.Logger) {
	l.log = log.WithComponent(logger.ComponentScheduler).WithSource(logger.LogSourceInternal)
}

// SetLease makes every tick hold a Redis lease so replicas take turns polling
func (l *Loop) SetLease(client *redis.Client, key string, ttl time.Duration) {
	if key == "" {
		key = DefaultLeaseKey
	}
	l.leaseClient = client
	l.leaseKey = key
	l.leaseTTL = ttl
}

// SetRateLimit caps how many schedules are fired per second. perSecond <= 0 disables it.
func (l *Loop) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		l.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// State reports whether the loop is polling
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Start begins polling in the background. Calling Start on a polling loop does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() == StatePolling {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state.Store(int32(StatePolling))

	l.log.Info("Scheduler loop started", "interval", l.interval.String())
	go l.run(loopCtx, l.done)
}

// Stop ends polling and waits for a tick in progress to finish
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.log.Info("Scheduler loop stopped")
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer l.state.Store(int32(StateIdle))

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick that has started runs to the end even if Stop is called
			if _, err := l.RunOnce(context.WithoutCancel(ctx)); err != nil {
				l.log.Error("Scheduler tick failed", "error", err)
			}
		}
	}
}

// RunOnce performs one tick and returns how many execution requests it enqueued
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	var lease *Lease
	if l.leaseClient != nil {
		var err error
		lease, err = AcquireLease(ctx, l.leaseClient, l.leaseKey, l.leaseTTL)
		if err != nil {
			l.metrics.RecordTickError()
			return 0, err
		}
		if lease == nil {
			l.log.Debug("Tick lease held by another replica, skipping tick")
			return 0, nil
		}
		defer func() {
			if err := lease.Release(ctx); err != nil {
				l.log.Warn("Failed to release tick lease", "error", err)
			}
		}()
	}
	leaseRenewed := time.Now()

	if mover, ok := l.queue.(retryMover); ok {
		if _, err := mover.MoveRetriesToReady(ctx); err != nil {
			l.log.Warn("Failed to move retrying requests", "error", err)
		}
	}

	now := l.clock.Now()
	l.metrics.RecordTick(now)

	due, err := l.store.FindDue(ctx, now)
	if err != nil {
		l.metrics.RecordTickError()
		return 0, fmt.Errorf("failed to find due schedules: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	l.log.Debug("Found due schedules", "count", len(due))

	enqueued := 0
	for _, s := range due {
		// Renew the lease once half its TTL has passed
		if lease != nil && time.Since(leaseRenewed) >= lease.TTL()/2 {
			if err := lease.Extend(ctx, l.leaseTTL); err != nil {
				l.log.Warn("Tick lease lost, ending tick early",
					"lease_key", lease.Key(), "lease_token", lease.Token(), "error", err)
				return enqueued, fmt.Errorf("tick lease: %w", err)
			}
			leaseRenewed = time.Now()
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return enqueued, fmt.Errorf("fire rate limiter: %w", err)
			}
		}

		var ok bool
		err := recovery.Do(func() error {
			var err error
			ok, err = l.fire(ctx, s, now)
			return err
		})
		if pe, isPanic := recovery.AsPanic(err); isPanic {
			l.metrics.RecordSchedulePanic()
			l.log.Error("Panic while firing schedule",
				"schedule_id", s.ID, "panic_value", pe.Value, "stack_trace", pe.Stacktrace)
			continue
		}
		if err != nil {
			l.log.Error("Failed to fire schedule", "schedule_id", s.ID, "error", err)
			continue
		}
		if ok {
			enqueued++
		}
	}
	return enqueued, nil
}

// fire claims one due schedule and enqueues its execution request. It reports
// whether a request was enqueued; losing the claim is not an error.
func (l *Loop) fire(ctx context.Context, s *schedule.Schedule, now time.Time) (bool, error) {
	if !s.IsDue(now) {
		return false, nil
	}
	scheduledFor := *s.NextRun

	fired := s.Clone()
	fired.Fire(now)

	err := l.store.Claim(ctx, fired, scheduledFor)
	switch {
	case errors.Is(err, schedule.ErrClaimConflict):
		l.metrics.RecordClaimConflict()
		l.log.Debug("Schedule already fired elsewhere", "schedule_id", s.ID)
		return false, nil
	case errors.Is(err, schedule.ErrNotFound):
		l.log.Debug("Schedule deleted before firing", "schedule_id", s.ID)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to claim schedule: %w", err)
	}

	req := execution.NewScheduled(s.ReportConfigID, s.ID, scheduledFor, now)
	if err := l.queue.Enqueue(ctx, req); err != nil {
		reqErr := &ExecutionRequestFailedError{
			ScheduleID:     s.ID,
			ReportConfigID: s.ReportConfigID,
			ScheduledFor:   scheduledFor,
			Err:            err,
		}
		l.metrics.RecordRequestFailure()
		l.recordFailure(ctx, req, reqErr)
		return false, reqErr
	}

	l.metrics.RecordScheduleFired()
	next := "none"
	if fired.NextRun != nil {
		next = fired.NextRun.Format(time.RFC3339)
	}
	l.log.Info("Schedule fired",
		"schedule_id", s.ID, "report_config_id", s.ReportConfigID, "request_id", req.ID,
		"scheduled_for", scheduledFor.Format(time.RFC3339), "next_run", next)
	return true, nil
}

func (l *Loop) recordFailure(ctx context.Context, req *execution.Request, reqErr error) {
	if l.history == nil {
		return
	}
	req.UpdateStatus(execution.StatusFailed)
	req.Error = reqErr.Error()
	result := execution.NewResult(req, execution.StatusFailed, nil, reqErr.Error(), l.clock.Now(), 0)
	if err := l.history.Record(ctx, result); err != nil {
		l.log.Warn("Failed to record failed execution request", "schedule_id", req.ScheduleID, "error", err)
	}
}
