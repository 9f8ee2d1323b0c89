package repository

import (
	"context"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// PartsRepository stages raw inbound payloads until reassembly claims them.
type PartsRepository interface {
	Insert(ctx context.Context, p model.PendingMessagePart) error
	ListGroup(ctx context.Context, service model.ServiceType, parentID string) ([]model.PendingMessagePart, error)
	DeleteGroup(ctx context.Context, tx *sqlx.Tx, service model.ServiceType, parentID string) error
}

type PartsRepositoryImpl struct {
	db *sqlx.DB
}

func NewPartsRepository(db *sqlx.DB) *PartsRepositoryImpl {
	return &PartsRepositoryImpl{db: db}
}

var _ PartsRepository = (*PartsRepositoryImpl)(nil)

func (r *PartsRepositoryImpl) Insert(ctx context.Context, p model.PendingMessagePart) error {
	// service_id is unique per carrier; a redelivered webhook is a no-op.
	const q = `
		INSERT INTO pending_message_parts
		    (service, service_id, parent_id, part_index, part_total,
		     service_message, body, user_number, contact_number, num_media, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE id = id
	`
	_, err := r.db.ExecContext(ctx, q,
		p.Service.String(), p.ServiceID, p.ParentID, p.PartIndex, p.PartTotal,
		p.ServiceMessage, p.Body, p.UserNumber, p.ContactNumber, p.NumMedia,
	)
	return err
}

func (r *PartsRepositoryImpl) ListGroup(ctx context.Context, service model.ServiceType, parentID string) ([]model.PendingMessagePart, error) {
	var rows []model.PendingMessagePart
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, service, service_id, parent_id, part_index, part_total,
		       service_message, body, user_number, contact_number, num_media, created_at
		  FROM pending_message_parts
		 WHERE service = ? AND parent_id = ?
		 ORDER BY part_index ASC, created_at ASC
	`, service.String(), parentID)
	return rows, err
}

func (r *PartsRepositoryImpl) DeleteGroup(ctx context.Context, tx *sqlx.Tx, service model.ServiceType, parentID string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM pending_message_parts WHERE service = ? AND parent_id = ?
		`, service.String(), parentID)
		return err
	})
}
