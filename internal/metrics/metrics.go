// Package metrics keeps in-memory counters for the scheduler loop and the workers.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
)

var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks system-wide metrics in memory
type Collector struct {
	// Scheduler loop
	ticks            atomic.Int64
	tickErrors       atomic.Int64
	schedulesFired   atomic.Int64
	claimConflicts   atomic.Int64
	requestFailures  atomic.Int64
	schedulePanics   atomic.Int64
	lastTickUnixNano atomic.Int64

	// Executions
	executionsStarted   atomic.Int64
	executionsCompleted atomic.Int64
	executionsFailed    atomic.Int64

	mu                  sync.RWMutex
	executionsByTrigger map[execution.Trigger]int64
	executionsByStatus  map[execution.Status]int64
	queueDepths         map[string]int64
	totalDuration       time.Duration
	startTime           time.Time
	activeWorkers       int64
	totalWorkers        int64
	errorCount          int64
	operationCount      int64
}

// Metrics is a snapshot of the collector
type Metrics struct {
	SchedulerTicks      int64                       `json:"scheduler_ticks"`
	SchedulerTickErrors int64                       `json:"scheduler_tick_errors"`
	SchedulesFired      int64                       `json:"schedules_fired"`
	ClaimConflicts      int64                       `json:"claim_conflicts"`
	RequestFailures     int64                       `json:"request_failures"`
	SchedulePanics      int64                       `json:"schedule_panics"`
	LastTick            *time.Time                  `json:"last_tick,omitempty"`
	ExecutionsStarted   int64                       `json:"executions_started"`
	ExecutionsCompleted int64                       `json:"executions_completed"`
	ExecutionsFailed    int64                       `json:"executions_failed"`
	ExecutionsByTrigger map[execution.Trigger]int64 `json:"executions_by_trigger"`
	ExecutionsByStatus  map[execution.Status]int64  `json:"executions_by_status"`
	QueueDepths         map[string]int64            `json:"queue_depths"`
	AvgExecutionTime    time.Duration               `json:"avg_execution_time"`
	WorkerUtilization   float64                     `json:"worker_utilization"`
	ErrorRate           float64                     `json:"error_rate"`
	Uptime              time.Duration               `json:"uptime"`
}

// Default returns the global metrics collector instance
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		executionsByTrigger: make(map[execution.Trigger]int64),
		executionsByStatus:  make(map[execution.Status]int64),
		queueDepths:         make(map[string]int64),
		startTime:           time.Now(),
	}
}

// RecordTick counts one scheduler loop iteration
func (c *Collector) RecordTick(at time.Time) {
	c.ticks.Add(1)
	c.lastTickUnixNano.Store(at.UnixNano())
}

// RecordTickError counts a tick that could not query due schedules
func (c *Collector) RecordTickError() {
	c.tickErrors.Add(1)
}

// RecordScheduleFired counts a schedule that was claimed and handed to the queue
func (c *Collector) RecordScheduleFired() {
	c.schedulesFired.Add(1)
}

// RecordClaimConflict counts a schedule another process fired first
func (c *Collector) RecordClaimConflict() {
	c.claimConflicts.Add(1)
}

// RecordRequestFailure counts an execution request that could not be enqueued
func (c *Collector) RecordRequestFailure() {
	c.requestFailures.Add(1)
}

// RecordSchedulePanic counts a schedule whose processing panicked
func (c *Collector) RecordSchedulePanic() {
	c.schedulePanics.Add(1)
}

// RecordExecutionStarted counts a request picked up by a worker
func (c *Collector) RecordExecutionStarted(trigger execution.Trigger) {
	c.executionsStarted.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionsByTrigger[trigger]++
	c.executionsByStatus[execution.StatusProcessing]++
}

// RecordExecutionCompleted records a successful run
func (c *Collector) RecordExecutionCompleted(duration time.Duration) {
	c.executionsCompleted.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionsByStatus[execution.StatusProcessing]--
	c.executionsByStatus[execution.StatusCompleted]++
	c.totalDuration += duration
	c.operationCount++
}

// RecordExecutionFailed records a failed run
func (c *Collector) RecordExecutionFailed(duration time.Duration) {
	c.executionsFailed.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionsByStatus[execution.StatusProcessing]--
	c.executionsByStatus[execution.StatusFailed]++
	c.totalDuration += duration
	c.operationCount++
	c.errorCount++
}

// RecordQueueDepths replaces the last observed queue depths
func (c *Collector) RecordQueueDepths(depths map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range depths {
		c.queueDepths[k] = v
	}
}

// RecordWorkerActivity updates worker utilization
func (c *Collector) RecordWorkerActivity(active, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeWorkers = active
	c.totalWorkers = total
}

// GetMetrics returns a snapshot of current metrics
func (c *Collector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byTrigger := make(map[execution.Trigger]int64, len(c.executionsByTrigger))
	for k, v := range c.executionsByTrigger {
		byTrigger[k] = v
	}
	byStatus := make(map[execution.Status]int64, len(c.executionsByStatus))
	for k, v := range c.executionsByStatus {
		byStatus[k] = v
	}
	depths := make(map[string]int64, len(c.queueDepths))
	for k, v := range c.queueDepths {
		depths[k] = v
	}

	var avgDuration time.Duration
	if c.operationCount > 0 {
		avgDuration = c.totalDuration / time.Duration(c.operationCount)
	}

	var utilization float64
	if c.totalWorkers > 0 {
		utilization = float64(c.activeWorkers) / float64(c.totalWorkers) * 100
	}

	var errorRate float64
	if c.operationCount > 0 {
		errorRate = float64(c.errorCount) / float64(c.operationCount) * 100
	}

	m := Metrics{
		SchedulerTicks:      c.ticks.Load(),
		SchedulerTickErrors: c.tickErrors.Load(),
		SchedulesFired:      c.schedulesFired.Load(),
		ClaimConflicts:      c.claimConflicts.Load(),
		RequestFailures:     c.requestFailures.Load(),
		SchedulePanics:      c.schedulePanics.Load(),
		ExecutionsStarted:   c.executionsStarted.Load(),
		ExecutionsCompleted: c.executionsCompleted.Load(),
		ExecutionsFailed:    c.executionsFailed.Load(),
		ExecutionsByTrigger: byTrigger,
		ExecutionsByStatus:  byStatus,
		QueueDepths:         depths,
		AvgExecutionTime:    avgDuration,
		WorkerUtilization:   utilization,
		ErrorRate:           errorRate,
		Uptime:              time.Since(c.startTime),
	}
	if ns := c.lastTickUnixNano.Load(); ns != 0 {
		last := time.Unix(0, ns).UTC()
		m.LastTick = &last
	}
	return m
}

// Reset clears all metrics
func (c *Collector) Reset() {
	for _, counter := range []*atomic.Int64{
		&c.ticks, &c.tickErrors, &c.schedulesFired, &c.claimConflicts, &c.requestFailures,
		&c.schedulePanics, &c.lastTickUnixNano,
		&c.executionsStarted, &c.executionsCompleted, &c.executionsFailed,
	} {
		counter.Store(0)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionsByTrigger = make(map[execution.Trigger]int64)
	c.executionsByStatus = make(map[execution.Status]int64)
	c.queueDepths = make(map[string]int64)
	c.totalDuration = 0
	c.startTime = time.Now()
	c.activeWorkers = 0
	c.totalWorkers = 0
	c.errorCount = 0
	c.operationCount = 0
}

// GetMetrics returns metrics from the global collector
func GetMetrics() Metrics {
	return Default().GetMetrics()
}

// ResetMetrics resets the global collector
func ResetMetrics() {
	Default().Reset()
}
