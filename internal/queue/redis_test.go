package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/execution"
)

func setupTestRedis(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	queue, err := NewRedisQueue("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	return queue, mr
}

func scheduledRequest(reportConfigID string) *execution.Request {
	fired := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return execution.NewScheduled(reportConfigID, "sched-1", fired, fired)
}

func TestNewRedisQueue_Success(t *testing.T) {
	queue, _ := setupTestRedis(t)
	if queue.keyPrefix != "reportsched:" {
		t.Errorf("expected keyPrefix 'reportsched:', got '%s'", queue.keyPrefix)
	}
}

func TestNewRedisQueue_InvalidURL(t *testing.T) {
	if _, err := NewRedisQueue("invalid://url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedisQueue_ConnectionFailure(t *testing.T) {
	if _, err := NewRedisQueue("redis://localhost:9999"); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestEnqueue_Success(t *testing.T) {
	queue, mr := setupTestRedis(t)
	ctx := context.Background()
	req := scheduledRequest("report-1")

	if err := queue.Enqueue(ctx, req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !mr.Exists("reportsched:request:" + req.ID) {
		t.Error("request record not stored")
	}
	ids, _ := mr.List("reportsched:queue:normal")
	if len(ids) != 1 || ids[0] != req.ID {
		t.Errorf("expected request on the normal queue, got %v", ids)
	}
}

func TestEnqueue_RejectsInvalid(t *testing.T) {
	queue, _ := setupTestRedis(t)
	req := scheduledRequest("")
	if err := queue.Enqueue(context.Background(), req); err == nil {
		t.Fatal("expected error for request without report config id")
	}
}

func TestDequeue_PriorityOrdering(t *testing.T) {
	queue, _ := setupTestRedis(t)
	ctx := context.Background()

	scheduled := scheduledRequest("report-1")
	manual := execution.NewManual("report-2", time.Now())
	queue.Enqueue(ctx, scheduled)
	queue.Enqueue(ctx, manual)

	first, err := queue.Dequeue(ctx, DefaultPriorities)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.ID != manual.ID {
		t.Errorf("expected manual request first, got %s", first.Trigger)
	}
	if first.Status != execution.StatusProcessing {
		t.Errorf("expected processing status, got %s", first.Status)
	}

	second, _ := queue.Dequeue(ctx, DefaultPriorities)
	if second == nil || second.ID != scheduled.ID {
		t.Fatal("expected scheduled request second")
	}

	empty, err := queue.Dequeue(ctx, DefaultPriorities)
	if err != nil || empty != nil {
		t.Errorf("expected nil, nil on empty queues, got %v, %v", empty, err)
	}
}

func TestDequeue_FIFOWithinPriority(t *testing.T) {
	queue, _ := setupTestRedis(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		req := scheduledRequest("report-1")
		ids = append(ids, req.ID)
		queue.Enqueue(ctx, req)
	}

	for i, want := range ids {
		got, _ := queue.Dequeue(ctx, DefaultPriorities)
		if got == nil || got.ID != want {
			t.Fatalf("position %d: expected %s", i, want)
		}
	}
}

func TestComplete_Success(t *testing.T) {
	queue, mr := setupTestRedis(t)
	ctx := context.Background()
	queue.Enqueue(ctx, scheduledRequest("report-1"))
	req, _ := queue.Dequeue(ctx, DefaultPriorities)

	if err := queue.Complete(ctx, req); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	processing, _ := mr.List("reportsched:queue:processing")
	if len(processing) != 0 {
		t.Errorf("expected empty processing queue, got %v", processing)
	}
	stored, _ := queue.GetRequest(ctx, req.ID)
	if stored.Status != execution.StatusCompleted {
		t.Errorf("expected completed status, got %s", stored.Status)
	}
	if ttl := mr.TTL("reportsched:request:" + req.ID); ttl != completedTTL {
		t.Errorf("expected TTL %v, got %v", completedTTL, ttl)
	}
}

func TestFail_WithRetry(t *testing.T) {
	queue, mr := setupTestRedis(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 5, 0, time.UTC)
	queue.now = func() time.Time { return now }

	queue.Enqueue(ctx, scheduledRequest("report-1"))
	req, _ := queue.Dequeue(ctx, DefaultPriorities)

	retrying, err := queue.Fail(ctx, req, "database unavailable")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !retrying {
		t.Fatal("expected first failure to be retried")
	}

	stored, _ := queue.GetRequest(ctx, req.ID)
	if stored.Attempts != 1 || stored.Status != execution.StatusRetrying {
		t.Errorf("unexpected state: attempts=%d status=%s", stored.Attempts, stored.Status)
	}
	wantRetry := now.Add(2 * time.Second)
	if stored.RetryAt == nil || !stored.RetryAt.Equal(wantRetry) {
		t.Errorf("expected retry at %v, got %v", wantRetry, stored.RetryAt)
	}
	score, err := mr.ZScore("reportsched:queue:retry", req.ID)
	if err != nil || int64(score) != wantRetry.Unix() {
		t.Errorf("expected retry score %d, got %v (%v)", wantRetry.Unix(), score, err)
	}
}

func TestFail_MaxRetriesExceeded(t *testing.T) {
	queue, mr := setupTestRedis(t)
	ctx := context.Background()

	req := scheduledRequest("report-1")
	req.Attempts = req.MaxRetries - 1
	queue.Enqueue(ctx, req)
	dequeued, _ := queue.Dequeue(ctx, DefaultPriorities)

	retrying, err := queue.Fail(ctx, dequeued, "still broken")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if retrying {
		t.Error("expected no retry once the budget is spent")
	}

	dead, _ := mr.List("reportsched:queue:dead")
	if len(dead) != 1 || dead[0] != req.ID {
		t.Errorf("expected request in dead letter queue, got %v", dead)
	}
	stored, _ := queue.GetRequest(ctx, req.ID)
	if stored.Status != execution.StatusFailed {
		t.Errorf("expected failed status, got %s", stored.Status)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempt); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestMoveRetriesToReady(t *testing.T) {
	queue, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	queue.now = func() time.Time { return now }

	queue.Enqueue(ctx, scheduledRequest("report-1"))
	req, _ := queue.Dequeue(ctx, DefaultPriorities)
	queue.Fail(ctx, req, "transient")

	moved, err := queue.MoveRetriesToReady(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if moved != 0 {
		t.Fatalf("expected nothing ready before the backoff elapses, moved %d", moved)
	}

	now = now.Add(3 * time.Second)
	moved, err = queue.MoveRetriesToReady(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 request moved, got %d", moved)
	}

	again, _ := queue.Dequeue(ctx, DefaultPriorities)
	if again == nil || again.ID != req.ID {
		t.Fatal("expected retried request back on its queue")
	}
	if again.Attempts != 1 || again.RetryAt != nil {
		t.Errorf("unexpected retried state: attempts=%d retryAt=%v", again.Attempts, again.RetryAt)
	}
}

func TestMoveRetriesToReady_MissingRecord(t *testing.T) {
	queue, mr := setupTestRedis(t)
	mr.ZAdd("reportsched:queue:retry", 1, "ghost")

	moved, err := queue.MoveRetriesToReady(context.Background())
	if err != nil || moved != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", moved, err)
	}
	if members, _ := mr.ZMembers("reportsched:queue:retry"); len(members) != 0 {
		t.Errorf("expected orphan to be removed, got %v", members)
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	queue, _ := setupTestRedis(t)
	if _, err := queue.GetRequest(context.Background(), "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestDepths(t *testing.T) {
	queue, _ := setupTestRedis(t)
	ctx := context.Background()
	queue.Enqueue(ctx, scheduledRequest("report-1"))
	queue.Enqueue(ctx, scheduledRequest("report-1"))
	queue.Enqueue(ctx, execution.NewManual("report-2", time.Now()))

	depths, err := queue.Depths(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if depths["normal"] != 2 || depths["high"] != 1 || depths["processing"] != 0 {
		t.Errorf("unexpected depths %v", depths)
	}
}
