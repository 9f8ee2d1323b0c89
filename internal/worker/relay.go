package worker

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/kafka"
	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/repository"
)

// Relay drains the transactional outbox into Kafka. Rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple relays can run; a row is deleted only
// after its publish is acknowledged, which makes delivery at-least-once.
type Relay struct {
	DB       *sqlx.DB
	Outbox   repository.OutboxRepository
	Producer *kafka.Producer

	BatchSize int
	Interval  time.Duration
}

func NewRelay(db *sqlx.DB, outbox repository.OutboxRepository, producer *kafka.Producer) *Relay {
	return &Relay{
		DB:        db,
		Outbox:    outbox,
		Producer:  producer,
		BatchSize: 200,
		Interval:  time.Second,
	}
}

func (w *Relay) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.Interval <= 0 {
		w.Interval = time.Second
	}

	tick := time.NewTicker(w.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			// Keep draining until the backlog is shorter than one batch.
			for {
				n, err := w.relayBatch(ctx)
				if err != nil {
					logger.Log.Error("relay: batch failed", zap.Error(err))
					break
				}
				if n < w.BatchSize {
					break
				}
			}
		}
	}
}

func (w *Relay) relayBatch(ctx context.Context) (int, error) {
	tx, err := w.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := w.Outbox.FetchBatch(ctx, tx, w.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(rows))
	for _, row := range rows {
		if err := w.Producer.Publish(ctx, row.Topic, row.AggregateID, row.Payload); err != nil {
			// Publish what we can; unpublished rows stay for the next tick.
			logger.Log.Warn("relay: publish failed",
				zap.String("topic", row.Topic),
				zap.String("aggregate_id", row.AggregateID),
				zap.Error(err))
			break
		}
		published = append(published, row.ID)
	}
	if len(published) == 0 {
		return 0, nil
	}

	if err := w.Outbox.DeleteBatch(ctx, tx, published); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(published), nil
}
