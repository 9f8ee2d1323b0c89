package repository

import (
	"context"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// MessageEventsRepository is the append-only log of raw carrier payloads.
// Rows are only ever inserted or attached to a message; nothing rewrites an
// existing payload.
type MessageEventsRepository interface {
	// Append inserts the event unless an identical one (same dedup key) was
	// already recorded. Returns whether a new row was written.
	Append(ctx context.Context, tx *sqlx.Tx, ev model.MessageEvent) (bool, error)

	// ListUnmatched returns delivery-report events that arrived before their
	// message row was correlatable. The sweeper re-attempts these.
	ListUnmatched(ctx context.Context, limit int) ([]model.MessageEvent, error)

	// Attach links an orphan event to its message once correlation succeeds.
	Attach(ctx context.Context, eventID int64, messageID string) error
}

type MessageEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessageEventsRepository(db *sqlx.DB) *MessageEventsRepositoryImpl {
	return &MessageEventsRepositoryImpl{db: db}
}

var _ MessageEventsRepository = (*MessageEventsRepositoryImpl)(nil)

func (r *MessageEventsRepositoryImpl) Append(ctx context.Context, tx *sqlx.Tx, ev model.MessageEvent) (bool, error) {
	// dedup_key is UNIQUE; a replayed webhook collapses onto the existing row
	// and reports zero affected rows.
	const q = `
		INSERT INTO message_events
		    (message_id, service, service_id, kind, outcome, error_code, dedup_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE id = id
	`
	var inserted bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			ev.MessageID, ev.Service.String(), ev.ServiceID, ev.Kind,
			ev.Outcome, ev.ErrorCode, ev.DedupKey, ev.Payload,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	return inserted, err
}

func (r *MessageEventsRepositoryImpl) ListUnmatched(ctx context.Context, limit int) ([]model.MessageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var rows []model.MessageEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, service, service_id, kind, outcome, error_code,
		       dedup_key, payload, created_at
		  FROM message_events
		 WHERE message_id IS NULL AND kind = 'delivery_report'
		 ORDER BY created_at ASC
		 LIMIT ?
	`, limit)
	return rows, err
}

func (r *MessageEventsRepositoryImpl) Attach(ctx context.Context, eventID int64, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE message_events SET message_id = ? WHERE id = ? AND message_id IS NULL
	`, messageID, eventID)
	return err
}
