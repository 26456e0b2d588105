package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms; burst 1 means the first call is free.
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/next"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS:   1, // 1 RPS = 1s interval
		DefaultBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	// Domain B should not be blocked by A
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com/x"))
	}
}

func TestLimiter_DomainOverrides(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 2, DomainRPS: map[string]float64{"WWW.Slow.example.com": 0.5}})

	require.Equal(t, rate.Limit(0.5), l.Limit("slow.example.com"))
	require.Equal(t, rate.Limit(0.5), l.Limit("www.slow.example.com"))
	require.Equal(t, rate.Limit(2), l.Limit("fast.example.com"))
	require.Equal(t, rate.Inf, New(Config{}).Limit("fast.example.com"))
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestPacerDelayWithinBounds(t *testing.T) {
	t.Parallel()

	p := NewPacer(nil, 5*time.Millisecond, 15*time.Millisecond)
	for i := 0; i < 5; i++ {
		delay, err := p.Pause(context.Background(), "https://example.com/a")
		require.NoError(t, err)
		require.GreaterOrEqual(t, delay, 5*time.Millisecond)
		require.LessOrEqual(t, delay, 15*time.Millisecond)
	}
}

func TestPacerNormalizesBounds(t *testing.T) {
	t.Parallel()

	p := NewPacer(nil, 30*time.Millisecond, 10*time.Millisecond)
	lo, hi := p.Bounds()
	require.Equal(t, 10*time.Millisecond, lo)
	require.Equal(t, 30*time.Millisecond, hi)

	zero := NewPacer(nil, -time.Second, 0)
	delay, err := zero.Pause(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Zero(t, delay)
}

func TestPacerUsesJitterSource(t *testing.T) {
	t.Parallel()

	p := NewPacer(nil, time.Millisecond, 3*time.Millisecond)
	p.jitter = func(n int64) int64 { return n - 1 }
	delay, err := p.Pause(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, 3*time.Millisecond, delay)
}

func TestPacerInterruptedByContext(t *testing.T) {
	t.Parallel()

	p := NewPacer(New(Config{}), time.Hour, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Pause(ctx, "https://example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}
