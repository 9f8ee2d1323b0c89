package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter tracks sent-message volume per organization and calendar month in
// Redis. Keys expire two months out so stale windows clean themselves up.
type Counter struct {
	rdb    *redis.Client
	prefix string
}

func NewCounter(rdb *redis.Client) *Counter {
	return &Counter{rdb: rdb, prefix: "usage:"}
}

func (c *Counter) key(orgID int64, at time.Time) string {
	return fmt.Sprintf("%s%d:%s", c.prefix, orgID, at.UTC().Format("200601"))
}

// Increment records one sent message in the current month's window.
func (c *Counter) Increment(ctx context.Context, orgID int64, at time.Time) error {
	key := c.key(orgID, at)

	pipe := c.rdb.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 62*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Current returns the month's sent count; a missing key counts as zero.
func (c *Counter) Current(ctx context.Context, orgID int64, at time.Time) (int64, error) {
	n, err := c.rdb.Get(ctx, c.key(orgID, at)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
