package provider

import (
	"context"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// carrierBreaker guards one carrier's API from hammering it while it is down.
// Open trips after failThreshold consecutive failures; after openFor a single
// probe is allowed through.
type carrierBreaker struct {
	mu               sync.Mutex
	st               breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func newCarrierBreaker(threshold int, openFor time.Duration) *carrierBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &carrierBreaker{failThreshold: threshold, openFor: openFor}
}

func (b *carrierBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.st {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = breakerHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case breakerHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

// Acquire blocks until the breaker admits a call or ctx ends. Waiting out an
// open window must not consume any of the caller's retry budget.
func (b *carrierBreaker) Acquire(ctx context.Context) error {
	for {
		if b.TryAcquire() {
			return nil
		}
		t := time.NewTimer(b.retryIn())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b *carrierBreaker) retryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := time.Until(b.nextTryAt)
	if d < 10*time.Millisecond {
		// half-open with a probe in flight: poll for its outcome
		d = 10 * time.Millisecond
	}
	return d
}

func (b *carrierBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = breakerClosed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *carrierBreaker) OnFailure() {
	b.mu.Lock()
	if b.st == breakerHalfOpen {
		b.st = breakerOpen
		b.nextTryAt = time.Now().Add(b.openFor)
		b.probeInFlight = false
		b.mu.Unlock()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = breakerOpen
		b.nextTryAt = time.Now().Add(b.openFor)
	}

	b.mu.Unlock()
}
