// Package ratelimit implements a store-backed sliding window rate limiter.
// Windows are reconstructed from recorded usage rows on every check, so limits
// survive restarts and apply across replicas sharing a store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/metrics"
	store "taskblitz-backend/storage/marketplace"
)

// Window names reported in rejections.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Result is the outcome of a limit check. When rejected, Window names the
// exhausted window and ResetAt is when its oldest counted call ages out.
type Result struct {
	Allowed   bool
	Window    string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// CeilingSource reports ceilings carried on an API key record itself. It is
// consulted when no explicit override exists in the rate limit store.
type CeilingSource interface {
	Ceilings(apiKey string) (core.APIRateLimit, bool)
}

// Limiter checks API keys against their per-minute, per-hour, and per-day
// ceilings. Check and Record are deliberately separate and non-atomic: usage
// is recorded only after the call executes, so a burst can briefly overshoot
// a ceiling by the number of in-flight requests.
//
// Ceiling resolution order: stored override, key record ceilings, defaults.
type Limiter struct {
	store    store.Store
	keys     CeilingSource
	defaults core.APIRateLimit
	now      func() time.Time
}

// NewLimiter builds a limiter. Keys with no stored ceiling fall back to the
// given defaults.
func NewLimiter(s store.Store, defaults core.APIRateLimit) *Limiter {
	return &Limiter{store: s, defaults: defaults, now: time.Now}
}

// UseKeyCeilings sets the fallback source for ceilings bound to key records.
func (l *Limiter) UseKeyCeilings(src CeilingSource) {
	l.keys = src
}

// Check evaluates all three windows, tightest first. The first exhausted
// window rejects the request.
func (l *Limiter) Check(ctx context.Context, apiKey string) (Result, error) {
	limits, err := l.store.GetRateLimit(ctx, apiKey)
	if err != nil {
		if err != core.ErrRateLimitNotFound {
			return Result{}, fmt.Errorf("load rate limit: %w", err)
		}
		limits = l.defaults
		if l.keys != nil {
			if kl, ok := l.keys.Ceilings(apiKey); ok {
				limits = kl
			}
		}
	}

	now := l.now()
	windows := []struct {
		name  string
		span  time.Duration
		limit int
	}{
		{WindowMinute, time.Minute, limits.PerMinute},
		{WindowHour, time.Hour, limits.PerHour},
		{WindowDay, 24 * time.Hour, limits.PerDay},
	}

	res := Result{Allowed: true}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		since := now.Add(-w.span)
		used, err := l.store.CountUsageSince(ctx, apiKey, since)
		if err != nil {
			return Result{}, fmt.Errorf("count usage: %w", err)
		}
		if used >= w.limit {
			oldest, ok, err := l.store.OldestUsageSince(ctx, apiKey, since)
			if err != nil {
				return Result{}, fmt.Errorf("find oldest usage: %w", err)
			}
			resetAt := now.Add(w.span)
			if ok {
				resetAt = oldest.Add(w.span)
			}
			metrics.RateLimitRejections.WithLabelValues(w.name).Inc()
			return Result{
				Allowed: false,
				Window:  w.name,
				Limit:   w.limit,
				ResetAt: resetAt,
			}, nil
		}
		// Report the tightest remaining headroom across windows.
		if remaining := w.limit - used; res.Window == "" || remaining < res.Remaining {
			res.Window = w.name
			res.Limit = w.limit
			res.Remaining = remaining
		}
	}
	return res, nil
}

// Record logs one metered call. Called after the request executes so failed
// or rejected calls still count toward quota only once they actually ran.
func (l *Limiter) Record(ctx context.Context, apiKey, endpoint string) error {
	return l.store.RecordUsage(ctx, core.APIUsage{
		ID:       uuid.NewString(),
		APIKey:   apiKey,
		Endpoint: endpoint,
		CalledAt: l.now(),
	})
}
