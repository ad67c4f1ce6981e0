package ratelimit

import (
	"context"
	"testing"
	"time"

	core "taskblitz-backend/core/marketplace"
	store "taskblitz-backend/storage/marketplace"
)

func TestCheckMinuteWindow(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	limiter := NewLimiter(st, core.APIRateLimit{PerMinute: 60})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		res, err := limiter.Check(ctx, "key-1")
		if err != nil {
			t.Fatalf("Check #%d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d rejected, want 60 admitted", i+1)
		}
		if err := limiter.Record(ctx, "key-1", "/api/tasks"); err != nil {
			t.Fatalf("Record #%d: %v", i+1, err)
		}
		now = now.Add(time.Second / 2)
	}

	res, err := limiter.Check(ctx, "key-1")
	if err != nil {
		t.Fatalf("Check 61: %v", err)
	}
	if res.Allowed {
		t.Fatalf("61st call admitted, want rejection")
	}
	if res.Window != WindowMinute {
		t.Fatalf("rejected by %q window, want minute", res.Window)
	}

	// resetAt is one minute after the oldest counted call.
	oldest := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if want := oldest.Add(time.Minute); !res.ResetAt.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", res.ResetAt, want)
	}
}

func TestCheckWindowSlides(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	limiter := NewLimiter(st, core.APIRateLimit{PerMinute: 1})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	if err := limiter.Record(ctx, "key-1", "/api/tasks"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if res, _ := limiter.Check(ctx, "key-1"); res.Allowed {
		t.Fatalf("call inside exhausted window admitted")
	}

	// The recorded call ages out after a minute.
	now = now.Add(time.Minute + time.Second)
	res, err := limiter.Check(ctx, "key-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("call after window slid rejected")
	}
}

func TestCheckPerKeyOverride(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	limiter := NewLimiter(st, core.APIRateLimit{PerMinute: 60})
	ctx := context.Background()

	if err := st.PutRateLimit(ctx, core.APIRateLimit{APIKey: "key-1", PerMinute: 1}); err != nil {
		t.Fatalf("PutRateLimit: %v", err)
	}
	if err := limiter.Record(ctx, "key-1", "/api/tasks"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if res, _ := limiter.Check(ctx, "key-1"); res.Allowed {
		t.Fatalf("per-key ceiling of 1 not enforced")
	}
	// Other keys still get the defaults.
	if res, _ := limiter.Check(ctx, "key-2"); !res.Allowed {
		t.Fatalf("default ceiling rejected an unused key")
	}
}

type fakeCeilings map[string]core.APIRateLimit

func (f fakeCeilings) Ceilings(apiKey string) (core.APIRateLimit, bool) {
	limits, ok := f[apiKey]
	return limits, ok
}

func TestCheckKeyRecordCeilings(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	limiter := NewLimiter(st, core.APIRateLimit{PerMinute: 60})
	limiter.UseKeyCeilings(fakeCeilings{
		"key-1": {APIKey: "key-1", PerMinute: 1},
	})
	ctx := context.Background()

	if err := limiter.Record(ctx, "key-1", "/api/tasks"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if res, _ := limiter.Check(ctx, "key-1"); res.Allowed {
		t.Fatalf("key record ceiling of 1 not enforced")
	}
	// Keys without record ceilings keep the defaults.
	if res, _ := limiter.Check(ctx, "key-2"); !res.Allowed {
		t.Fatalf("default ceiling rejected a key with no record ceilings")
	}

	// A stored override wins over the record ceiling.
	if err := st.PutRateLimit(ctx, core.APIRateLimit{APIKey: "key-1", PerMinute: 60}); err != nil {
		t.Fatalf("PutRateLimit: %v", err)
	}
	if res, _ := limiter.Check(ctx, "key-1"); !res.Allowed {
		t.Fatalf("stored override did not supersede the key record ceiling")
	}
}

func TestCheckHourAndDayWindows(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	limiter := NewLimiter(st, core.APIRateLimit{PerMinute: 0, PerHour: 2, PerDay: 3})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if res, _ := limiter.Check(ctx, "key-1"); !res.Allowed {
			t.Fatalf("call %d rejected under hour ceiling", i+1)
		}
		limiter.Record(ctx, "key-1", "/api/tasks")
	}
	if res, _ := limiter.Check(ctx, "key-1"); res.Allowed || res.Window != WindowHour {
		t.Fatalf("hour ceiling not enforced: %+v", res)
	}

	// Slide past the hour; the day ceiling still has one slot.
	now = now.Add(time.Hour + time.Minute)
	if res, _ := limiter.Check(ctx, "key-1"); !res.Allowed {
		t.Fatalf("call after hour slid rejected")
	}
	limiter.Record(ctx, "key-1", "/api/tasks")

	if res, _ := limiter.Check(ctx, "key-1"); res.Allowed || res.Window != WindowDay {
		t.Fatalf("day ceiling not enforced: %+v", res)
	}
}
