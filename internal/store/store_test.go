package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/config"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/recurrence"
	"github.com/Xavier-Fan123/oil-trading-system-sub012/internal/schedule"
)

var base = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func newRedisStore(t *testing.T) schedule.Store {
	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func newSQLStore(t *testing.T) schedule.Store {
	s, err := NewSQLStore(filepath.Join(t.TempDir(), "schedules.db"))
	if err != nil {
		t.Fatalf("failed to open sql store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var stores = map[string]func(t *testing.T) schedule.Store{
	"memory": func(*testing.T) schedule.Store { return NewMemoryStore() },
	"redis":  newRedisStore,
	"sql":    newSQLStore,
}

func dailyAt(t *testing.T, hour, minute int) recurrence.Rule {
	t.Helper()
	rule, err := recurrence.NewDaily(recurrence.TimeOfDay{Hour: hour, Minute: minute}, "UTC")
	if err != nil {
		t.Fatalf("failed to build rule: %v", err)
	}
	return rule
}

func newSchedule(t *testing.T, reportConfigID string, rule recurrence.Rule, enabled bool, now time.Time) *schedule.Schedule {
	t.Helper()
	s, err := schedule.New(reportConfigID, rule, enabled, now)
	if err != nil {
		t.Fatalf("failed to create schedule: %v", err)
	}
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, st schedule.Store)) {
	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_SaveAndFind(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		s := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)

		if err := st.Save(ctx, s); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		got, err := st.FindByID(ctx, s.ID)
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if got.ReportConfigID != "report-1" {
			t.Errorf("expected report-1, got %s", got.ReportConfigID)
		}
		if !recurrence.Equal(got.Rule, s.Rule) {
			t.Errorf("rule changed through the store: %v vs %v", got.Rule, s.Rule)
		}
		if got.NextRun == nil || !got.NextRun.Equal(*s.NextRun) {
			t.Errorf("expected next run %v, got %v", s.NextRun, got.NextRun)
		}

		// Mutating the returned copy must not affect the stored one
		got.Enabled = false
		again, _ := st.FindByID(ctx, s.ID)
		if !again.Enabled {
			t.Error("store shares state with callers")
		}
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		if _, err := st.FindByID(ctx, "missing"); !errors.Is(err, schedule.ErrNotFound) {
			t.Errorf("expected ErrNotFound from FindByID, got %v", err)
		}
		if err := st.Delete(ctx, "missing"); !errors.Is(err, schedule.ErrNotFound) {
			t.Errorf("expected ErrNotFound from Delete, got %v", err)
		}
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		s := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
		st.Save(ctx, s)

		if err := st.Delete(ctx, s.ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := st.FindByID(ctx, s.ID); !errors.Is(err, schedule.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		due, _ := st.FindDue(ctx, base.Add(48*time.Hour))
		if len(due) != 0 {
			t.Errorf("deleted schedule still due: %d", len(due))
		}
		owned, _ := st.FindByReportConfig(ctx, "report-1")
		if len(owned) != 0 {
			t.Errorf("deleted schedule still listed for report config: %d", len(owned))
		}
	})
}

func TestStore_FindDue(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		due := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
		later := newSchedule(t, "report-1", dailyAt(t, 10, 0), true, base)
		disabled := newSchedule(t, "report-2", dailyAt(t, 8, 30), false, base)
		for _, s := range []*schedule.Schedule{due, later, disabled} {
			if err := st.Save(ctx, s); err != nil {
				t.Fatalf("save failed: %v", err)
			}
		}

		now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
		got, err := st.FindDue(ctx, now)
		if err != nil {
			t.Fatalf("find due failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != due.ID {
			t.Fatalf("expected only %s to be due, got %d schedules", due.ID, len(got))
		}

		got, _ = st.FindDue(ctx, now.Add(-time.Minute))
		if len(got) != 0 {
			t.Errorf("expected nothing due before 09:00, got %d", len(got))
		}
	})
}

func TestStore_FindByReportConfigAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		first := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
		second := newSchedule(t, "report-1", dailyAt(t, 10, 0), false, base.Add(time.Minute))
		other := newSchedule(t, "report-2", dailyAt(t, 11, 0), true, base.Add(2*time.Minute))
		for _, s := range []*schedule.Schedule{second, other, first} {
			st.Save(ctx, s)
		}

		owned, err := st.FindByReportConfig(ctx, "report-1")
		if err != nil {
			t.Fatalf("find by report config failed: %v", err)
		}
		if len(owned) != 2 || owned[0].ID != first.ID || owned[1].ID != second.ID {
			t.Errorf("expected [first, second] in creation order, got %d schedules", len(owned))
		}

		all, err := st.List(ctx)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(all) != 3 || all[2].ID != other.ID {
			t.Errorf("expected 3 schedules with the newest last, got %d", len(all))
		}

		none, _ := st.FindByReportConfig(ctx, "report-unknown")
		if len(none) != 0 {
			t.Errorf("expected no schedules, got %d", len(none))
		}
	})
}

func TestStore_Claim(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		s := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
		st.Save(ctx, s)

		expected := *s.NextRun
		fired := s.Clone()
		fired.Fire(expected)

		if err := st.Claim(ctx, fired, expected); err != nil {
			t.Fatalf("first claim failed: %v", err)
		}

		stored, _ := st.FindByID(ctx, s.ID)
		if stored.LastFired == nil || !stored.LastFired.Equal(expected) {
			t.Errorf("expected last fired %v, got %v", expected, stored.LastFired)
		}
		if !stored.NextRun.Equal(expected.Add(24 * time.Hour)) {
			t.Errorf("expected next run advanced by a day, got %v", stored.NextRun)
		}

		// Replaying the same claim must lose
		if err := st.Claim(ctx, fired, expected); !errors.Is(err, schedule.ErrClaimConflict) {
			t.Errorf("expected ErrClaimConflict on replay, got %v", err)
		}

		// The advanced schedule is no longer due at the old instant
		due, _ := st.FindDue(ctx, expected)
		if len(due) != 0 {
			t.Errorf("claimed schedule still due at %v", expected)
		}
	})
}

func TestStore_ClaimDisabledAndDeleted(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		s := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
		st.Save(ctx, s)
		expected := *s.NextRun

		fired := s.Clone()
		fired.Fire(expected)

		disabled := s.Clone()
		disabled.SetEnabled(false, base)
		st.Save(ctx, disabled)
		if err := st.Claim(ctx, fired, expected); !errors.Is(err, schedule.ErrClaimConflict) {
			t.Errorf("expected ErrClaimConflict for disabled schedule, got %v", err)
		}

		st.Delete(ctx, s.ID)
		if err := st.Claim(ctx, fired, expected); !errors.Is(err, schedule.ErrNotFound) {
			t.Errorf("expected ErrNotFound for deleted schedule, got %v", err)
		}
	})
}

func TestStore_ConcurrentClaimHasOneWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, st schedule.Store) {
		ctx := context.Background()
		s := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
		st.Save(ctx, s)
		expected := *s.NextRun

		const contenders = 20
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				current, err := st.FindByID(ctx, s.ID)
				if err != nil {
					t.Errorf("find failed: %v", err)
					return
				}
				current.Fire(expected)
				err = st.Claim(ctx, current, expected)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, schedule.ErrClaimConflict):
					conflicts++
				default:
					t.Errorf("unexpected claim error: %v", err)
				}
			}()
		}
		wg.Wait()

		if winners != 1 {
			t.Errorf("expected exactly one winner, got %d", winners)
		}
		if winners+conflicts != contenders {
			t.Errorf("expected %d outcomes, got %d", contenders, winners+conflicts)
		}
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()
	st := NewRedisStore(client)

	s := newSchedule(t, "report-1", dailyAt(t, 9, 0), true, base)
	if err := st.Save(context.Background(), s); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if !mr.Exists("reportsched:schedule:" + s.ID) {
		t.Error("expected schedule hash")
	}
	if ok, _ := mr.SIsMember("reportsched:config:report-1", s.ID); !ok {
		t.Error("expected schedule in report config set")
	}
	score, err := mr.ZScore("reportsched:schedules:due", s.ID)
	if err != nil {
		t.Fatalf("expected schedule in due index: %v", err)
	}
	if int64(score) != s.NextRun.UnixMilli() {
		t.Errorf("expected score %d, got %v", s.NextRun.UnixMilli(), score)
	}

	s.SetEnabled(false, base)
	st.Save(context.Background(), s)
	if _, err := mr.ZScore("reportsched:schedules:due", s.ID); err == nil {
		t.Error("disabled schedule should leave the due index")
	}
}

func TestConnectRedis_InvalidURL(t *testing.T) {
	if _, err := ConnectRedis(context.Background(), "invalid://url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tests := []struct {
		cfg     config.StoreConfig
		client  *redis.Client
		wantErr bool
	}{
		{config.StoreConfig{Backend: config.StoreMemory}, nil, false},
		{config.StoreConfig{Backend: config.StoreRedis}, client, false},
		{config.StoreConfig{Backend: config.StoreRedis}, nil, true},
		{config.StoreConfig{Backend: config.StoreSQL, SQLPath: filepath.Join(t.TempDir(), "db", "s.db")}, nil, false},
		{config.StoreConfig{Backend: "mongo"}, nil, true},
	}

	for _, tt := range tests {
		st, closeFn, err := Open(tt.cfg, tt.client)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.cfg.Backend)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.cfg.Backend, err)
		}
		if _, err := st.List(context.Background()); err != nil {
			t.Errorf("%s: list failed: %v", tt.cfg.Backend, err)
		}
		if err := closeFn(); err != nil {
			t.Errorf("%s: close failed: %v", tt.cfg.Backend, err)
		}
	}
}
