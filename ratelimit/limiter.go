// Package ratelimit implements a fixed-window limiter with a block period,
// keyed by action and client identifier.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// ErrStoreUnavailable wraps failures of the backing store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

const (
	defaultSweepInterval = time.Minute
	lockStripes          = 64
)

// Result is the outcome of a Check or GetStatus call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// RetryAfter is how long the caller should wait before trying again.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if d := r.ResetTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Limiter applies per-action budgets to identifiers.
type Limiter struct {
	store   Store
	configs map[string]Config
	now     func() time.Time

	// locks serialise read-modify-write cycles per key within this process.
	// Keys on different stripes never wait on each other.
	locks [lockStripes]sync.Mutex

	sweepMu       sync.Mutex
	sweepInterval time.Duration
	lastSweep     time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithConfig sets or overrides the budget of one action.
func WithConfig(action string, cfg Config) Option {
	return func(l *Limiter) { l.configs[action] = cfg }
}

// WithSweepInterval sets the minimum time between two sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepInterval = d }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:         store,
		configs:       DefaultConfigs(),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key is the store key for an action and identifier.
func Key(action, identifier string) string {
	return action + ":" + identifier
}

// ConfigFor returns the budget of action, or the default action's budget.
func (l *Limiter) ConfigFor(action string) Config {
	if cfg, ok := l.configs[action]; ok {
		return cfg
	}
	return l.configs[DefaultAction]
}

// Check counts one attempt for (action, identifier) and reports whether it
// is allowed.
func (l *Limiter) Check(ctx context.Context, action, identifier string) (Result, error) {
	cfg := l.ConfigFor(action)
	key := Key(action, identifier)

	now := l.now()
	l.maybeSweep(ctx, now)

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}

	if rec != nil && rec.blocked(now) {
		return Result{Allowed: false, Remaining: 0, ResetTime: rec.BlockedUntil}, nil
	}

	// New key, finished window or finished block: start a fresh window.
	if rec == nil || !now.Before(rec.ResetTime) || !rec.BlockedUntil.IsZero() {
		fresh := Record{Count: 1, ResetTime: now.Add(cfg.Window)}
		if err := l.store.Set(ctx, key, fresh); err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: cfg.MaxAttempts - 1, ResetTime: fresh.ResetTime}, nil
	}

	if rec.Count >= cfg.MaxAttempts {
		rec.BlockedUntil = now.Add(cfg.BlockDuration)
		if err := l.store.Set(ctx, key, *rec); err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, Remaining: 0, ResetTime: rec.BlockedUntil}, nil
	}

	rec.Count++
	if err := l.store.Set(ctx, key, *rec); err != nil {
		return Result{}, err
	}
	return Result{Allowed: true, Remaining: cfg.MaxAttempts - rec.Count, ResetTime: rec.ResetTime}, nil
}

// GetStatus reports what the next Check would see without counting an attempt.
func (l *Limiter) GetStatus(ctx context.Context, action, identifier string) (Result, error) {
	cfg := l.ConfigFor(action)
	key := Key(action, identifier)

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	rec, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}

	switch {
	case rec != nil && rec.blocked(now):
		return Result{Allowed: false, Remaining: 0, ResetTime: rec.BlockedUntil}, nil
	case rec == nil || !now.Before(rec.ResetTime) || !rec.BlockedUntil.IsZero():
		return Result{Allowed: true, Remaining: cfg.MaxAttempts, ResetTime: now.Add(cfg.Window)}, nil
	case rec.Count >= cfg.MaxAttempts:
		return Result{Allowed: false, Remaining: 0, ResetTime: rec.ResetTime}, nil
	default:
		return Result{Allowed: true, Remaining: cfg.MaxAttempts - rec.Count, ResetTime: rec.ResetTime}, nil
	}
}

// Reset clears the record for (action, identifier).
func (l *Limiter) Reset(ctx context.Context, action, identifier string) error {
	key := Key(action, identifier)

	mu := l.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func (l *Limiter) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}

// maybeSweep runs at most once per sweepInterval. Sweep errors are ignored;
// stale records are harmless and retried next time.
func (l *Limiter) maybeSweep(ctx context.Context, now time.Time) {
	l.sweepMu.Lock()
	if now.Sub(l.lastSweep) < l.sweepInterval {
		l.sweepMu.Unlock()
		return
	}
	l.lastSweep = now
	l.sweepMu.Unlock()
	_ = l.store.Sweep(ctx, now)
}
