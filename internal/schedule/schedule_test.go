package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recurrence"
)

func mustDaily(t *testing.T, hour, minute int, tz string) recurrence.Rule {
	t.Helper()
	rule, err := recurrence.NewDaily(recurrence.TimeOfDay{Hour: hour, Minute: minute}, tz)
	if err != nil {
		t.Fatalf("failed to build daily rule: %v", err)
	}
	return rule
}

func TestNew_ComputesFirstRun(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	s, err := New("report-1", mustDaily(t, 9, 0, "UTC"), true, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.ID == "" {
		t.Error("expected id to be assigned")
	}
	want := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if s.NextRun == nil || !s.NextRun.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, s.NextRun)
	}
	if s.LastFired != nil {
		t.Errorf("expected no last fired, got %v", s.LastFired)
	}
}

func TestNew_Disabled(t *testing.T) {
	s, err := New("report-1", mustDaily(t, 9, 0, "UTC"), false, time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.NextRun != nil {
		t.Errorf("disabled schedule should have no next run, got %v", s.NextRun)
	}
	if s.IsDue(time.Now().Add(1000 * time.Hour)) {
		t.Error("disabled schedule should never be due")
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := New("", mustDaily(t, 9, 0, "UTC"), true, time.Now()); err == nil {
		t.Error("expected error for empty report config id")
	}
	if _, err := New("report-1", recurrence.Daily{}, true, time.Now()); err == nil {
		t.Error("expected error for zero rule")
	}
	if _, err := New("report-1", nil, true, time.Now()); err == nil {
		t.Error("expected error for nil rule")
	}
}

func TestFire_AdvancesStrictly(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), true, start)

	var previous time.Time
	for i := 0; i < 10; i++ {
		due := *s.NextRun
		s.Fire(due)
		if s.LastFired == nil || !s.LastFired.Equal(due) {
			t.Fatalf("iteration %d: expected last fired %v, got %v", i, due, s.LastFired)
		}
		if !s.NextRun.After(due) {
			t.Fatalf("iteration %d: next run %v not after fired %v", i, s.NextRun, due)
		}
		if !previous.IsZero() && !s.NextRun.After(previous) {
			t.Fatalf("iteration %d: next run went backwards", i)
		}
		previous = *s.NextRun
	}
}

func TestFire_LateTickSkipsMissedRuns(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), true, start)

	// Loop was down for three days
	late := time.Date(2025, 3, 13, 12, 0, 0, 0, time.UTC)
	s.Fire(late)

	want := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	if !s.NextRun.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, s.NextRun)
	}
}

func TestFire_EarlyClockKeepsMonotonic(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), true, start)
	due := *s.NextRun

	// A clock running behind the stored next run must not move it backwards
	s.Fire(due.Add(-2 * time.Hour))
	if !s.NextRun.After(due) {
		t.Errorf("expected next run after %v, got %v", due, s.NextRun)
	}
}

func TestFire_Disabled(t *testing.T) {
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), false, time.Now())
	s.Fire(time.Now())
	if s.NextRun != nil {
		t.Errorf("disabled schedule should keep no next run, got %v", s.NextRun)
	}
	if s.LastFired == nil {
		t.Error("expected last fired to be recorded")
	}
}

func TestSetEnabled_MatchesFreshNext(t *testing.T) {
	rule := mustDaily(t, 9, 0, "America/New_York")
	s, _ := New("report-1", rule, true, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	now := time.Date(2025, 6, 15, 20, 0, 0, 0, time.UTC)
	s.SetEnabled(false, now)
	if s.NextRun != nil {
		t.Fatalf("expected no next run when disabled, got %v", s.NextRun)
	}

	s.SetEnabled(true, now)
	want, _ := recurrence.Next(rule, now)
	if s.NextRun == nil || !s.NextRun.Equal(want) {
		t.Errorf("expected %v after re-enable, got %v", want, s.NextRun)
	}
	if !s.UpdatedAt.Equal(now) {
		t.Errorf("expected updatedAt %v, got %v", now, s.UpdatedAt)
	}
}

func TestUpdateRule(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), true, now)

	if err := s.UpdateRule(mustDaily(t, 11, 0, "UTC"), now); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	if !s.NextRun.Equal(want) {
		t.Errorf("expected %v, got %v", want, s.NextRun)
	}
}

func TestUpdateRule_InvalidLeavesScheduleUnchanged(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), true, now)
	before := s.Clone()

	if err := s.UpdateRule(recurrence.Monthly{}, now.Add(time.Hour)); err == nil {
		t.Fatal("expected error for invalid rule")
	}
	if !recurrence.Equal(s.Rule, before.Rule) || !s.NextRun.Equal(*before.NextRun) || !s.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("invalid update modified the schedule")
	}
}

func TestClone_IsDeep(t *testing.T) {
	s, _ := New("report-1", mustDaily(t, 9, 0, "UTC"), true, time.Now())
	s.Fire(*s.NextRun)
	c := s.Clone()
	*c.NextRun = c.NextRun.Add(time.Hour)
	*c.LastFired = c.LastFired.Add(time.Hour)
	if c.NextRun.Equal(*s.NextRun) || c.LastFired.Equal(*s.LastFired) {
		t.Error("clone shares time pointers with the original")
	}
}

func TestJSON_WireFormat(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	rule, _ := recurrence.NewWeekly([]time.Weekday{time.Monday, time.Friday}, recurrence.TimeOfDay{Hour: 14, Minute: 30}, "Europe/London")
	s, _ := New("report-1", rule, true, now)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	for _, key := range []string{"id", "reportConfigId", "rule", "enabled", "nextRunDate", "createdAt", "updatedAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
	if _, ok := raw["lastFiredDate"]; ok {
		t.Error("lastFiredDate should be omitted before the first firing")
	}

	var decoded Schedule
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !recurrence.Equal(decoded.Rule, rule) {
		t.Errorf("rule changed through JSON: %v", decoded.Rule)
	}
}

func TestJSON_RejectsInvalidRule(t *testing.T) {
	data := []byte(`{"id":"x","reportConfigId":"r","rule":{"frequency":"monthly","time":"09:00","timezone":"UTC","dayOfMonth":40},"enabled":true}`)
	var s Schedule
	if err := json.Unmarshal(data, &s); err == nil {
		t.Fatal("expected error for invalid stored rule")
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("expected %v, got %v", want, c.Now())
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("expected %v, got %v", start, c.Now())
	}
}
