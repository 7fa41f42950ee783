package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
)

func TestNewCollector(t *testing.T) {
	m := NewCollector().GetMetrics()
	if m.SchedulerTicks != 0 || m.ExecutionsStarted != 0 || m.LastTick != nil {
		t.Errorf("expected an empty snapshot, got %+v", m)
	}
}

func TestSchedulerCounters(t *testing.T) {
	c := NewCollector()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	c.RecordTick(at.Add(-time.Second))
	c.RecordTick(at)
	c.RecordTickError()
	c.RecordScheduleFired()
	c.RecordScheduleFired()
	c.RecordClaimConflict()
	c.RecordRequestFailure()
	c.RecordSchedulePanic()

	m := c.GetMetrics()
	if m.SchedulerTicks != 2 || m.SchedulerTickErrors != 1 {
		t.Errorf("unexpected tick counters %d/%d", m.SchedulerTicks, m.SchedulerTickErrors)
	}
	if m.SchedulesFired != 2 || m.ClaimConflicts != 1 || m.RequestFailures != 1 || m.SchedulePanics != 1 {
		t.Errorf("unexpected schedule counters %+v", m)
	}
	if m.LastTick == nil || !m.LastTick.Equal(at) {
		t.Errorf("expected last tick %v, got %v", at, m.LastTick)
	}
}

func TestExecutionCounters(t *testing.T) {
	c := NewCollector()

	c.RecordExecutionStarted(execution.TriggerScheduled)
	c.RecordExecutionCompleted(100 * time.Millisecond)
	c.RecordExecutionStarted(execution.TriggerManual)
	c.RecordExecutionFailed(300 * time.Millisecond)

	m := c.GetMetrics()
	if m.ExecutionsStarted != 2 || m.ExecutionsCompleted != 1 || m.ExecutionsFailed != 1 {
		t.Errorf("unexpected execution counters %+v", m)
	}
	if m.ExecutionsByTrigger[execution.TriggerScheduled] != 1 || m.ExecutionsByTrigger[execution.TriggerManual] != 1 {
		t.Errorf("unexpected trigger split %v", m.ExecutionsByTrigger)
	}
	if m.ExecutionsByStatus[execution.StatusProcessing] != 0 {
		t.Errorf("expected no executions in flight, got %d", m.ExecutionsByStatus[execution.StatusProcessing])
	}
	if m.AvgExecutionTime != 200*time.Millisecond {
		t.Errorf("expected average 200ms, got %v", m.AvgExecutionTime)
	}
	if m.ErrorRate != 50 {
		t.Errorf("expected error rate 50%%, got %v", m.ErrorRate)
	}
}

func TestQueueDepthsAndWorkers(t *testing.T) {
	c := NewCollector()
	c.RecordQueueDepths(map[string]int64{"high": 1, "normal": 4})
	c.RecordWorkerActivity(3, 4)

	m := c.GetMetrics()
	if m.QueueDepths["normal"] != 4 || m.QueueDepths["high"] != 1 {
		t.Errorf("unexpected depths %v", m.QueueDepths)
	}
	if m.WorkerUtilization != 75 {
		t.Errorf("expected 75%% utilization, got %v", m.WorkerUtilization)
	}

	// Snapshot maps are copies
	m.QueueDepths["normal"] = 99
	if c.GetMetrics().QueueDepths["normal"] != 4 {
		t.Error("snapshot shares its map with the collector")
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.RecordTick(time.Now())
	c.RecordExecutionStarted(execution.TriggerManual)
	c.RecordExecutionFailed(time.Second)
	c.Reset()

	m := c.GetMetrics()
	if m.SchedulerTicks != 0 || m.ExecutionsFailed != 0 || len(m.ExecutionsByTrigger) != 0 || m.LastTick != nil {
		t.Errorf("expected a clean collector after reset, got %+v", m)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordScheduleFired()
			c.RecordExecutionStarted(execution.TriggerScheduled)
			c.RecordExecutionCompleted(time.Millisecond)
		}()
	}
	wg.Wait()

	m := c.GetMetrics()
	if m.SchedulesFired != 50 || m.ExecutionsCompleted != 50 {
		t.Errorf("lost updates: fired=%d completed=%d", m.SchedulesFired, m.ExecutionsCompleted)
	}
}

func TestDefaultIsShared(t *testing.T) {
	if Default() != Default() {
		t.Error("Default should return the same collector")
	}
}
