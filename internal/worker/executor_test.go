package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/metrics"
)

// mockQueue records how requests were settled
type mockQueue struct {
	mu          sync.Mutex
	completed   []string
	failed      []string
	lastError   string
	retry       bool
	completeErr error
}

func (m *mockQueue) Complete(_ context.Context, req *execution.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, req.ID)
	return m.completeErr
}

func (m *mockQueue) Fail(_ context.Context, req *execution.Request, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Attempts++
	m.failed = append(m.failed, req.ID)
	m.lastError = errMsg
	return m.retry, nil
}

func (m *mockQueue) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed), len(m.failed)
}

// memoryHistory is an in-memory history.Store
type memoryHistory struct {
	mu      sync.Mutex
	results map[string]*execution.Result
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{results: make(map[string]*execution.Result)}
}

func (h *memoryHistory) Record(_ context.Context, r *execution.Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[r.RequestID] = r
	return nil
}

func (h *memoryHistory) Get(_ context.Context, id string) (*execution.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[id], nil
}

func (h *memoryHistory) WaitForResult(ctx context.Context, id string, _ time.Duration) (*execution.Result, error) {
	return h.Get(ctx, id)
}

func (h *memoryHistory) ListByReportConfig(_ context.Context, reportConfigID string, _ int) ([]*execution.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*execution.Result
	for _, r := range h.results {
		if r.ReportConfigID == reportConfigID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *memoryHistory) Delete(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.results, id)
	return nil
}

func newTestExecutor(runner Runner) (*Executor, *mockQueue, *memoryHistory, *metrics.Collector) {
	q := &mockQueue{}
	h := newMemoryHistory()
	c := metrics.NewCollector()
	e := NewExecutor(runner, q, h)
	e.SetMetrics(c)
	return e, q, h, c
}

func TestExecute_Success(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, req *execution.Request) ([]byte, error) {
		return []byte(`{"rows":7}`), nil
	})
	e, q, h, c := newTestExecutor(runner)
	req := execution.NewManual("report-1", time.Now())

	if err := e.Execute(context.Background(), req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if completed, failed := q.counts(); completed != 1 || failed != 0 {
		t.Errorf("expected 1 completion, got %d completed / %d failed", completed, failed)
	}
	result, _ := h.Get(context.Background(), req.ID)
	if result == nil || !result.IsSuccess() || string(result.Output) != `{"rows":7}` {
		t.Fatalf("expected successful result in history, got %+v", result)
	}
	if m := c.GetMetrics(); m.ExecutionsCompleted != 1 || m.ExecutionsByTrigger[execution.TriggerManual] != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestExecute_FailureWithRetry(t *testing.T) {
	runner := RunnerFunc(func(context.Context, *execution.Request) ([]byte, error) {
		return nil, errors.New("warehouse offline")
	})
	e, q, h, _ := newTestExecutor(runner)
	q.retry = true
	req := execution.NewManual("report-1", time.Now())

	if err := e.Execute(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	if _, failed := q.counts(); failed != 1 {
		t.Errorf("expected Fail to be called once, got %d", failed)
	}
	if q.lastError != "warehouse offline" {
		t.Errorf("unexpected error message %q", q.lastError)
	}
	if result, _ := h.Get(context.Background(), req.ID); result != nil {
		t.Error("a retrying request should not be recorded yet")
	}
}

func TestExecute_FinalFailureRecorded(t *testing.T) {
	runner := RunnerFunc(func(context.Context, *execution.Request) ([]byte, error) {
		return nil, errors.New("bad query")
	})
	e, _, h, c := newTestExecutor(runner)
	req := execution.NewManual("report-1", time.Now())

	e.Execute(context.Background(), req)

	result, _ := h.Get(context.Background(), req.ID)
	if result == nil || !result.IsFailed() || result.Error != "bad query" {
		t.Fatalf("expected failed result in history, got %+v", result)
	}
	if m := c.GetMetrics(); m.ExecutionsFailed != 1 {
		t.Errorf("expected 1 failed execution, got %d", m.ExecutionsFailed)
	}
}

func TestExecute_RunnerPanic(t *testing.T) {
	runner := RunnerFunc(func(context.Context, *execution.Request) ([]byte, error) {
		panic("nil pointer in report engine")
	})
	e, q, _, _ := newTestExecutor(runner)
	req := execution.NewManual("report-1", time.Now())

	err := e.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected error from panicking runner")
	}
	if !strings.Contains(q.lastError, "PANIC: nil pointer in report engine") {
		t.Errorf("expected panic message to reach the queue, got %q", q.lastError)
	}
}

func TestExecute_Timeout(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _ *execution.Request) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e, q, _, _ := newTestExecutor(runner)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := e.Execute(ctx, execution.NewManual("report-1", time.Now())); err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.HasPrefix(q.lastError, "execution cancelled") {
		t.Errorf("expected cancellation message, got %q", q.lastError)
	}
}

func TestExecute_CompleteFails(t *testing.T) {
	runner := RunnerFunc(func(context.Context, *execution.Request) ([]byte, error) { return nil, nil })
	e, q, h, _ := newTestExecutor(runner)
	q.completeErr = errors.New("redis down")
	req := execution.NewManual("report-1", time.Now())

	if err := e.Execute(context.Background(), req); err == nil {
		t.Fatal("expected error when completion fails")
	}
	if result, _ := h.Get(context.Background(), req.ID); result != nil {
		t.Error("result should not be recorded when the queue could not be settled")
	}
}

func TestAcknowledgeRunner(t *testing.T) {
	out, err := AcknowledgeRunner{}.Run(context.Background(), execution.NewManual("report-1", time.Now()))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(string(out), `"reportConfigId":"report-1"`) {
		t.Errorf("unexpected acknowledgement %s", out)
	}
}
