package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces out page fetches on the anonymized circuit. Wait blocks until
// the configured gap since the last Done has passed.
type Pacer interface {
	Wait(ctx context.Context) error
	Done()
	SetDelay(min, max time.Duration)
}

type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
		sleep:    sleepCtx,
	}
}

// Wait returns immediately before the first fetch.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	last := r.lastAction
	delay := r.calculateDelay()
	r.mu.Unlock()

	if last.IsZero() {
		return ctx.Err()
	}

	if elapsed := time.Since(last); elapsed < delay {
		if err := r.sleep(ctx, delay-elapsed); err != nil {
			return err
		}
	}
	return nil
}

// Done marks the end of a fetch; the next gap is measured from here.
func (r *SimpleRateLimiter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAction = time.Now()
}

// Reset forgets the last fetch so the next Wait does not block.
func (r *SimpleRateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAction = time.Time{}
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

func (r *SimpleRateLimiter) Delays() (time.Duration, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	jitter := time.Duration(rand.Int63n(int64(delta)))
	return r.minDelay + jitter
}

// AdaptiveRateLimiter widens the gap after repeated per-offer errors and
// drifts back to the configured gap after a streak of successes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	baseMin       time.Duration
	baseMax       time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		baseMin:           minDelay,
		baseMax:           maxDelay,
		maxErrorCount:     3,
		backoffFactor:     1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		newMax := time.Duration(float64(a.maxDelay) * 0.9)
		if newMin < a.baseMin {
			newMin = a.baseMin
		}
		if newMax < a.baseMax {
			newMax = a.baseMax
		}
		a.minDelay = newMin
		a.maxDelay = newMax
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
