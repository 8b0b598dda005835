package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(opts ...Option) (*Limiter, *MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	l := New(store, append([]Option{WithClock(clock.Now)}, opts...)...)
	return l, store, clock
}

func TestCheck_AllowsMaxAttemptsThenDenies(t *testing.T) {
	for action, cfg := range DefaultConfigs() {
		t.Run(action, func(t *testing.T) {
			l, _, _ := newTestLimiter()
			ctx := context.Background()

			for i := 1; i <= cfg.MaxAttempts; i++ {
				res, err := l.Check(ctx, action, "client-1")
				require.NoError(t, err)
				assert.True(t, res.Allowed, "attempt %d", i)
				assert.Equal(t, cfg.MaxAttempts-i, res.Remaining)
			}

			res, err := l.Check(ctx, action, "client-1")
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
		})
	}
}

func TestCheck_BlockOutlastsWindow(t *testing.T) {
	l, _, clock := newTestLimiter()
	ctx := context.Background()
	cfg := l.ConfigFor(ActionLogin)

	for i := 0; i < cfg.MaxAttempts; i++ {
		_, err := l.Check(ctx, ActionLogin, "user@example.com")
		require.NoError(t, err)
	}

	clock.Advance(time.Minute)
	blocked, err := l.Check(ctx, ActionLogin, "user@example.com")
	require.NoError(t, err)
	require.False(t, blocked.Allowed)
	assert.Equal(t, clock.Now().Add(cfg.BlockDuration), blocked.ResetTime, "block counts from the exceeding attempt")

	// Past the original window but inside the block.
	clock.Advance(cfg.Window)
	res, err := l.Check(ctx, ActionLogin, "user@example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, blocked.ResetTime, res.ResetTime)

	clock.t = blocked.ResetTime
	res, err = l.Check(ctx, ActionLogin, "user@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, cfg.MaxAttempts-1, res.Remaining)
}

func TestCheck_WindowExpiryStartsFreshCount(t *testing.T) {
	l, _, clock := newTestLimiter()
	ctx := context.Background()
	cfg := l.ConfigFor(ActionPayment)

	for i := 0; i < cfg.MaxAttempts-1; i++ {
		_, err := l.Check(ctx, ActionPayment, "ip-1")
		require.NoError(t, err)
	}

	clock.Advance(cfg.Window)
	res, err := l.Check(ctx, ActionPayment, "ip-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, cfg.MaxAttempts-1, res.Remaining)
	assert.Equal(t, clock.Now().Add(cfg.Window), res.ResetTime)
}

func TestCheck_UnknownActionUsesDefault(t *testing.T) {
	l, _, _ := newTestLimiter()

	res, err := l.Check(context.Background(), "does-not-exist", "ip-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, DefaultConfigs()[DefaultAction].MaxAttempts-1, res.Remaining)
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _, _ := newTestLimiter(WithConfig("tiny", Config{Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Minute}))
	ctx := context.Background()

	_, _ = l.Check(ctx, "tiny", "a")
	res, _ := l.Check(ctx, "tiny", "a")
	assert.False(t, res.Allowed)

	res, _ = l.Check(ctx, "tiny", "b")
	assert.True(t, res.Allowed)

	res, _ = l.Check(ctx, ActionAPI, "a")
	assert.True(t, res.Allowed)
}

func TestGetStatus_DoesNotChangeOutcome(t *testing.T) {
	l, _, _ := newTestLimiter()
	ctx := context.Background()
	cfg := l.ConfigFor(ActionSignup)

	for i := 0; i < cfg.MaxAttempts; i++ {
		for j := 0; j < 10; j++ {
			_, err := l.GetStatus(ctx, ActionSignup, "ip-9")
			require.NoError(t, err)
		}
		res, err := l.Check(ctx, ActionSignup, "ip-9")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i+1)
	}

	status, err := l.GetStatus(ctx, ActionSignup, "ip-9")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.Remaining)

	// Status on an exhausted key must not trigger the block itself.
	status2, err := l.GetStatus(ctx, ActionSignup, "ip-9")
	require.NoError(t, err)
	assert.Equal(t, status, status2)

	res, err := l.Check(ctx, ActionSignup, "ip-9")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestGetStatus_UnknownKey(t *testing.T) {
	l, store, clock := newTestLimiter()

	res, err := l.GetStatus(context.Background(), ActionUpload, "nobody")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 20, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Hour), res.ResetTime)
	assert.Equal(t, 0, store.Len())
}

func TestReset_ClearsBlock(t *testing.T) {
	l, _, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = l.Check(ctx, ActionLogin, "user-1")
	}
	res, _ := l.Check(ctx, ActionLogin, "user-1")
	require.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, ActionLogin, "user-1"))

	res, err := l.Check(ctx, ActionLogin, "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestSweep_RemovesOnlyFullyExpiredRecords(t *testing.T) {
	l, store, clock := newTestLimiter(WithSweepInterval(time.Minute))
	ctx := context.Background()
	tiny := Config{Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Hour}
	l.configs["tiny"] = tiny

	_, _ = l.Check(ctx, ActionAPI, "expires")
	_, _ = l.Check(ctx, "tiny", "blocked")
	_, _ = l.Check(ctx, "tiny", "blocked")
	require.Equal(t, 2, store.Len())

	clock.Advance(2 * time.Minute)
	_, _ = l.Check(ctx, ActionAPI, "trigger")

	_, ok := store.records[Key(ActionAPI, "expires")]
	assert.False(t, ok, "expired window is swept")
	_, ok = store.records[Key("tiny", "blocked")]
	assert.True(t, ok, "active block survives the sweep")
}

func TestSweep_IsRateBounded(t *testing.T) {
	counting := &countingStore{MemoryStore: NewMemoryStore()}
	clock := &fakeClock{t: time.Now()}
	l := New(counting, WithClock(clock.Now), WithSweepInterval(time.Minute))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, _ = l.Check(ctx, ActionAPI, "x")
	}
	assert.Equal(t, 1, counting.sweeps)

	clock.Advance(time.Minute)
	_, _ = l.Check(ctx, ActionAPI, "x")
	assert.Equal(t, 2, counting.sweeps)
}

func TestCheck_StoreErrorPropagates(t *testing.T) {
	l := New(failingStore{}, WithClock(time.Now))

	_, err := l.Check(context.Background(), ActionAPI, "x")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 90*time.Second, Result{ResetTime: now.Add(90 * time.Second)}.RetryAfter(now))
	assert.Equal(t, time.Duration(0), Result{ResetTime: now.Add(-time.Second)}.RetryAfter(now))
}

type countingStore struct {
	*MemoryStore
	sweeps int
}

func (c *countingStore) Sweep(ctx context.Context, now time.Time) error {
	c.sweeps++
	return c.MemoryStore.Sweep(ctx, now)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Record, error) {
	return nil, ErrStoreUnavailable
}
func (failingStore) Set(context.Context, string, Record) error { return ErrStoreUnavailable }
func (failingStore) Delete(context.Context, string) error      { return errors.New("down") }
func (failingStore) Sweep(context.Context, time.Time) error    { return nil }

// stallingStore blocks Get for one key until released.
type stallingStore struct {
	*MemoryStore
	key     string
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) Get(ctx context.Context, key string) (*Record, error) {
	if key == s.key {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestCheck_SlowKeyDoesNotStallOtherKeys(t *testing.T) {
	store := &stallingStore{
		MemoryStore: NewMemoryStore(),
		key:         Key(ActionAPI, "slow"),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	l := New(store)

	other := "fast-0"
	for i := 1; l.lockFor(Key(ActionAPI, other)) == l.lockFor(store.key); i++ {
		other = fmt.Sprintf("fast-%d", i)
	}

	slowDone := make(chan error, 1)
	go func() {
		_, err := l.Check(context.Background(), ActionAPI, "slow")
		slowDone <- err
	}()
	<-store.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := l.Check(context.Background(), ActionAPI, other)
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("check on an unrelated key waited for the stalled key")
	}

	close(store.release)
	require.NoError(t, <-slowDone)
}

func TestCheck_ConcurrentAttemptsOnOneKeyHonourBudget(t *testing.T) {
	l, _, _ := newTestLimiter(WithConfig("burst", Config{Window: time.Hour, MaxAttempts: 30, BlockDuration: time.Hour}))

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "burst", "same-client")
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), allowed.Load())
}
