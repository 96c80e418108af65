package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingLimiter(min, max time.Duration) (*SimpleRateLimiter, *[]time.Duration) {
	var slept []time.Duration
	r := NewSimpleRateLimiter(min, max)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestFirstWaitDoesNotBlock(t *testing.T) {
	r, slept := recordingLimiter(time.Second, time.Second)

	require.NoError(t, r.Wait(context.Background()))
	assert.Empty(t, *slept)
}

func TestWaitMeasuresFromDone(t *testing.T) {
	r, slept := recordingLimiter(time.Second, time.Second)

	r.Done()
	require.NoError(t, r.Wait(context.Background()))

	require.Len(t, *slept, 1)
	assert.LessOrEqual(t, (*slept)[0], time.Second)
	assert.Greater(t, (*slept)[0], 900*time.Millisecond)
}

func TestWaitSkipsWhenGapAlreadyPassed(t *testing.T) {
	r, slept := recordingLimiter(10*time.Millisecond, 10*time.Millisecond)

	r.Done()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Wait(context.Background()))
	assert.Empty(t, *slept)
}

func TestJitterStaysInRange(t *testing.T) {
	r := NewSimpleRateLimiter(500*time.Millisecond, time.Second)
	for i := 0; i < 100; i++ {
		d := r.calculateDelay()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, time.Second)
	}
}

func TestWaitCanceled(t *testing.T) {
	r := NewSimpleRateLimiter(time.Minute, time.Minute)
	r.Done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.Canceled)
}

func TestReset(t *testing.T) {
	r, slept := recordingLimiter(time.Second, time.Second)
	r.Done()
	r.Reset()

	require.NoError(t, r.Wait(context.Background()))
	assert.Empty(t, *slept)
}

func TestAdaptiveBackoffAndRecovery(t *testing.T) {
	a := NewAdaptiveRateLimiter(time.Second, 2*time.Second)

	a.RecordError()
	a.RecordError()
	min, max := a.Delays()
	assert.Equal(t, time.Second, min)
	assert.Equal(t, 2*time.Second, max)

	a.RecordError()
	min, max = a.Delays()
	assert.Equal(t, 1500*time.Millisecond, min)
	assert.Equal(t, 3*time.Second, max)

	for i := 0; i < 6*10; i++ {
		a.RecordSuccess()
	}
	min, max = a.Delays()
	assert.Equal(t, time.Second, min)
	assert.Equal(t, 2*time.Second, max)
}

func TestAdaptiveBackoffIsCapped(t *testing.T) {
	a := NewAdaptiveRateLimiter(50*time.Second, 100*time.Second)
	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	min, max := a.Delays()
	assert.Equal(t, 60*time.Second, min)
	assert.Equal(t, 120*time.Second, max)
}
