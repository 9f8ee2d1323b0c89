package usage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testCounter(t *testing.T) *Counter {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewCounter(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestCounterIncrementAndCurrent(t *testing.T) {
	t.Parallel()

	c := testCounter(t)
	ctx := context.Background()
	at := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)

	got, err := c.Current(ctx, 1, at)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got != 0 {
		t.Fatalf("fresh window = %d, want 0", got)
	}

	for i := 0; i < 3; i++ {
		if err := c.Increment(ctx, 1, at); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	got, err = c.Current(ctx, 1, at)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
}

func TestCounterWindowsAreIsolated(t *testing.T) {
	t.Parallel()

	c := testCounter(t)
	ctx := context.Background()
	september := time.Date(2026, 9, 30, 23, 0, 0, 0, time.UTC)
	october := time.Date(2026, 10, 1, 0, 30, 0, 0, time.UTC)

	if err := c.Increment(ctx, 7, september); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := c.Increment(ctx, 7, october); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := c.Increment(ctx, 8, september); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	for _, tc := range []struct {
		org  int64
		at   time.Time
		want int64
	}{
		{7, september, 1},
		{7, october, 1},
		{8, september, 1},
		{8, october, 0},
	} {
		got, err := c.Current(ctx, tc.org, tc.at)
		if err != nil {
			t.Fatalf("Current(%d): %v", tc.org, err)
		}
		if got != tc.want {
			t.Errorf("org %d at %s = %d, want %d", tc.org, tc.at.Format("200601"), got, tc.want)
		}
	}
}
