package provider

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/groundgame/textrelay/internal/model"
)

func TestValiditySeconds(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := func(d time.Duration) sql.NullTime {
		return sql.NullTime{Time: now.Add(d), Valid: true}
	}

	cases := []struct {
		name        string
		sendBefore  sql.NullTime
		maxValidity time.Duration
		padding     time.Duration
		want        int64
	}{
		{"no deadline no max", sql.NullTime{}, 0, 0, 0},
		{"no deadline uses provider max", sql.NullTime{}, 4 * time.Hour, 0, 14400},
		{"deadline tighter than max", deadline(30 * time.Minute), 4 * time.Hour, 0, 1800},
		{"max tighter than deadline", deadline(10 * time.Hour), time.Hour, 0, 3600},
		{"padding subtracted", deadline(30 * time.Minute), 0, 5 * time.Minute, 1500},
		{"already expired clamps to one", deadline(-time.Minute), time.Hour, 0, 1},
		{"padding eats the window", deadline(time.Minute), 0, 5 * time.Minute, 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := &model.Message{SendBefore: tc.sendBefore}
			if got := validitySeconds(msg, tc.maxValidity, tc.padding, now); got != tc.want {
				t.Fatalf("validitySeconds = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCarrierBreakerTripsAndProbes(t *testing.T) {
	t.Parallel()

	b := newCarrierBreaker(2, 20*time.Millisecond)

	if !b.TryAcquire() {
		t.Fatal("closed breaker must admit")
	}
	b.OnFailure()
	if !b.TryAcquire() {
		t.Fatal("one failure below threshold must still admit")
	}
	b.OnFailure()

	if b.TryAcquire() {
		t.Fatal("breaker must be open after threshold failures")
	}

	time.Sleep(30 * time.Millisecond)
	if !b.TryAcquire() {
		t.Fatal("expired open window must admit a probe")
	}
	if b.TryAcquire() {
		t.Fatal("only one probe may be in flight")
	}

	b.OnSuccess()
	if !b.TryAcquire() {
		t.Fatal("successful probe must close the breaker")
	}
}

func TestCarrierBreakerAcquireWaitsOutOpenWindow(t *testing.T) {
	t.Parallel()

	b := newCarrierBreaker(1, 20*time.Millisecond)
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("closed breaker Acquire: %v", err)
	}
	b.OnFailure()

	start := time.Now()
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after open window: %v", err)
	}
	if waited := time.Since(start); waited < 15*time.Millisecond {
		t.Fatalf("waited %v, want the open window respected", waited)
	}
}

func TestCarrierBreakerAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	b := newCarrierBreaker(1, time.Minute)
	b.TryAcquire()
	b.OnFailure()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx); err == nil {
		t.Fatal("Acquire on a long-open breaker must surface ctx expiry")
	}
}

func TestCarrierBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	b := newCarrierBreaker(1, 20*time.Millisecond)
	b.TryAcquire()
	b.OnFailure()

	time.Sleep(30 * time.Millisecond)
	if !b.TryAcquire() {
		t.Fatal("probe expected after open window")
	}
	b.OnFailure()

	if b.TryAcquire() {
		t.Fatal("failed probe must reopen immediately")
	}
}
