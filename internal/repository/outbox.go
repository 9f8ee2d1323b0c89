package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// OutboxRow is one event waiting for the relay to publish.
type OutboxRow struct {
	ID          int64  `db:"id"`
	Aggregate   string `db:"aggregate"`
	AggregateID string `db:"aggregate_id"`
	Topic       string `db:"topic"`
	Payload     []byte `db:"payload"`
}

// OutboxRepository defines persistence for the outbox table. Rows written in
// the send transaction are published to Kafka by the relay worker, keeping
// dispatch atomic with the message insert.
type OutboxRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error
	FetchBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]OutboxRow, error)
	DeleteBatch(ctx context.Context, tx *sqlx.Tx, ids []int64) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, aggregate, aggregateID, topic, payload)

		return err
	})
}

// FetchBatch claims the oldest unpublished rows, skipping rows held by a
// concurrent relay instance.
func (r *OutboxRepositoryImpl) FetchBatch(ctx context.Context, tx *sqlx.Tx, limit int) ([]OutboxRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []OutboxRow
	err := tx.SelectContext(ctx, &rows, `
		SELECT id, aggregate, aggregate_id, topic, payload
		  FROM outbox
		 ORDER BY id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`, limit)
	return rows, err
}

func (r *OutboxRepositoryImpl) DeleteBatch(ctx context.Context, tx *sqlx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM outbox WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}
