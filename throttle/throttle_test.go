package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkout-svc/apperrors"
	"checkout-svc/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLimiter(rdb, time.UTC), mr
}

func ceilingOf(t *testing.T, err error) string {
	t.Helper()
	var te *apperrors.ThrottleError
	require.True(t, errors.As(err, &te), "expected throttle error, got %v", err)
	return te.Ceiling
}

func TestAllow_PhoneDailyCeiling(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	limits := Limits{PerPhonePerDay: 3}
	a := Attempt{Phone: "9876543210", IP: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ctx, a, limits, base.Add(time.Duration(i)*time.Minute)))
	}

	err := l.Allow(ctx, a, limits, base.Add(5*time.Minute))
	assert.Equal(t, CeilingPhoneDaily, ceilingOf(t, err))

	// A new day starts a new bucket.
	assert.NoError(t, l.Allow(ctx, a, limits, base.Add(24*time.Hour)))
}

func TestAllow_IPDailyCeilingAcrossPhones(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	limits := Limits{PerIPPerDay: 2}

	require.NoError(t, l.Allow(ctx, Attempt{Phone: "1111111111", IP: "10.0.0.9"}, limits, base))
	require.NoError(t, l.Allow(ctx, Attempt{Phone: "2222222222", IP: "10.0.0.9"}, limits, base))

	err := l.Allow(ctx, Attempt{Phone: "3333333333", IP: "10.0.0.9"}, limits, base)
	assert.Equal(t, CeilingIPDaily, ceilingOf(t, err))

	assert.NoError(t, l.Allow(ctx, Attempt{Phone: "3333333333", IP: "10.0.0.10"}, limits, base))
}

func TestAllow_SlidingHour(t *testing.T) {
	l, _ := newLimiter(t)
	ctx := context.Background()
	limits := Limits{PerHour: 2}
	a := Attempt{Phone: "9876543210"}

	require.NoError(t, l.Allow(ctx, a, limits, base))
	require.NoError(t, l.Allow(ctx, a, limits, base.Add(10*time.Minute)))

	err := l.Allow(ctx, a, limits, base.Add(20*time.Minute))
	assert.Equal(t, CeilingHourly, ceilingOf(t, err))

	// Window now holds +10m, +20m and this one.
	err = l.Allow(ctx, a, limits, base.Add(61*time.Minute))
	assert.Equal(t, CeilingHourly, ceilingOf(t, err))

	// Everything before +65m has aged out.
	assert.NoError(t, l.Allow(ctx, a, limits, base.Add(125*time.Minute)))
}

func TestAllow_UnboundedTouchesNothing(t *testing.T) {
	l, mr := newLimiter(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, l.Allow(context.Background(), Attempt{Phone: "9876543210", IP: "1.1.1.1"}, Limits{}, base))
	}
	assert.Empty(t, mr.Keys())
}

func TestAllow_ConcurrentAttemptsNeverOvershoot(t *testing.T) {
	l, _ := newLimiter(t)
	limits := Limits{PerPhonePerDay: 5}

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := Attempt{Phone: "9876543210", IP: fmt.Sprintf("10.0.0.%d", i)}
			if err := l.Allow(context.Background(), a, limits, base); err == nil {
				atomic.AddInt64(&allowed, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(5), allowed)
}

func TestLimitsFromPolicy(t *testing.T) {
	three, zero := 3, 0
	p := &models.CODSecurityPolicy{MaxPerPhonePerDay: &three, MaxPerIPPerDay: &zero}

	limits := LimitsFromPolicy(p)
	assert.Equal(t, Limits{PerPhonePerDay: 3}, limits)
	assert.True(t, LimitsFromPolicy(nil).Unbounded())
}
