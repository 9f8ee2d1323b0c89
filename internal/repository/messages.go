package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// MessagesRepository defines persistence for the messages table. Status
// transitions are conditional updates so concurrent webhook and retry writers
// can never move a message backwards or out of a terminal state.
type MessagesRepository interface {
	InsertQueued(ctx context.Context, tx *sqlx.Tx, m model.Message) error
	InsertInbound(ctx context.Context, tx *sqlx.Tx, m model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	GetByServiceID(ctx context.Context, service model.ServiceType, serviceID string) (*model.Message, error)

	// MarkSending claims a queued message for dispatch. Returns false when
	// another worker already claimed it or it was administratively held.
	MarkSending(ctx context.Context, tx *sqlx.Tx, id string) (bool, error)

	// MarkSent records the carrier acknowledgment for the initial API call.
	MarkSent(ctx context.Context, id string, serviceID string) error

	// MarkError drives a non-terminal message to error with the given code.
	MarkError(ctx context.Context, id string, errorCode string) error

	// ApplyReportStatus performs the guarded delivery-report update: the new
	// status is written only where the current one is not yet terminal.
	// Returns the number of rows updated (0 or 1).
	ApplyReportStatus(ctx context.Context, service model.ServiceType, serviceID string, status model.SendStatus, errorCode string) (int64, error)

	// IncrementAttempts bumps the explicit retry counter and returns the new
	// value, or 0 when no matching message exists.
	IncrementAttempts(ctx context.Context, service model.ServiceType, serviceID string) (int, error)

	// BackfillCounts records segment/media counts only where still null.
	// Allowed after terminal states: it enriches, never transitions.
	BackfillCounts(ctx context.Context, service model.ServiceType, serviceID string, segments, media int) error

	// DeliveryStats aggregates outbound outcomes per service since the given
	// time, feeding the deliverability alert.
	DeliveryStats(ctx context.Context, since time.Time) ([]ServiceDeliveryStats, error)
}

// ServiceDeliveryStats is one service's recent outbound outcome counts.
type ServiceDeliveryStats struct {
	Service   model.ServiceType `db:"service"`
	Errors    int64             `db:"errors"`
	Delivered int64             `db:"delivered"`
	Sent      int64             `db:"sent"`
}

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

const messageColumns = `
	id, organization_id, is_from_contact, contact_number, user_number, text,
	send_status, service, service_id, assignment_id, campaign_contact_id,
	attempt_count, num_segments, num_media, error_codes,
	queued_at, sent_at, service_response_at, send_before, created_at, updated_at`

func (r *MessagesRepositoryImpl) InsertQueued(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	const q = `
		INSERT INTO messages
		    (id, organization_id, is_from_contact, contact_number, user_number, text,
		     send_status, service, assignment_id, campaign_contact_id, send_before,
		     queued_at, created_at, updated_at)
		VALUES
		    (?, ?, 0, ?, ?, ?, 'queued', ?, ?, ?, ?, NOW(), NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.OrganizationID, m.ContactNumber, m.UserNumber, m.Text,
			m.Service.String(), m.AssignmentID, m.CampaignContactID, m.SendBefore,
		)
		return err
	})
}

func (r *MessagesRepositoryImpl) InsertInbound(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	const q = `
		INSERT INTO messages
		    (id, organization_id, is_from_contact, contact_number, user_number, text,
		     send_status, service, service_id, assignment_id, campaign_contact_id,
		     num_media, queued_at, sent_at, created_at, updated_at)
		VALUES
		    (?, ?, 1, ?, ?, ?, 'delivered', ?, ?, ?, ?, ?, NOW(), NOW(), NOW(), NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			m.ID, m.OrganizationID, m.ContactNumber, m.UserNumber, m.Text,
			m.Service.String(), m.ServiceID, m.AssignmentID, m.CampaignContactID,
			m.NumMedia,
		)
		return err
	})
}

func (r *MessagesRepositoryImpl) Get(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m,
		`SELECT `+messageColumns+` FROM messages WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessagesRepositoryImpl) GetByServiceID(ctx context.Context, service model.ServiceType, serviceID string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m,
		`SELECT `+messageColumns+` FROM messages WHERE service = ? AND service_id = ? LIMIT 1`,
		service.String(), serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessagesRepositoryImpl) MarkSending(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	const q = `
		UPDATE messages
		   SET send_status = 'sending', updated_at = NOW()
		 WHERE id = ? AND send_status = 'queued'
	`
	var claimed bool
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	return claimed, err
}

func (r *MessagesRepositoryImpl) MarkSent(ctx context.Context, id string, serviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET send_status = 'sent', service_id = ?, sent_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND send_status IN ('queued', 'sending')
	`, serviceID, id)
	return err
}

func (r *MessagesRepositoryImpl) MarkError(ctx context.Context, id string, errorCode string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET send_status = 'error',
		       error_codes = CONCAT_WS(',', error_codes, ?),
		       updated_at = NOW()
		 WHERE id = ? AND send_status NOT IN ('delivered', 'error')
	`, errorCode, id)
	return err
}

func (r *MessagesRepositoryImpl) ApplyReportStatus(ctx context.Context, service model.ServiceType, serviceID string, status model.SendStatus, errorCode string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET send_status = ?,
		       error_codes = CONCAT_WS(',', error_codes, NULLIF(?, '')),
		       service_response_at = NOW(),
		       updated_at = NOW()
		 WHERE service = ? AND service_id = ?
		   AND send_status NOT IN ('delivered', 'error')
	`, status.String(), errorCode, service.String(), serviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *MessagesRepositoryImpl) IncrementAttempts(ctx context.Context, service model.ServiceType, serviceID string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE messages
		   SET attempt_count = attempt_count + 1, updated_at = NOW()
		 WHERE service = ? AND service_id = ?
		   AND send_status NOT IN ('delivered', 'error')
	`, service.String(), serviceID)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return 0, err
	}

	var count int
	if err := tx.QueryRowxContext(ctx, `
		SELECT attempt_count FROM messages WHERE service = ? AND service_id = ? LIMIT 1
	`, service.String(), serviceID).Scan(&count); err != nil {
		return 0, err
	}

	return count, tx.Commit()
}

func (r *MessagesRepositoryImpl) BackfillCounts(ctx context.Context, service model.ServiceType, serviceID string, segments, media int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		   SET num_segments = COALESCE(num_segments, NULLIF(?, 0)),
		       num_media    = COALESCE(num_media, NULLIF(?, 0)),
		       updated_at   = NOW()
		 WHERE service = ? AND service_id = ?
	`, segments, media, service.String(), serviceID)
	return err
}

func (r *MessagesRepositoryImpl) DeliveryStats(ctx context.Context, since time.Time) ([]ServiceDeliveryStats, error) {
	var rows []ServiceDeliveryStats
	err := r.db.SelectContext(ctx, &rows, `
		SELECT service,
		       SUM(send_status = 'error')     AS errors,
		       SUM(send_status = 'delivered') AS delivered,
		       SUM(send_status = 'sent')      AS sent
		  FROM messages
		 WHERE is_from_contact = 0 AND updated_at >= ?
		 GROUP BY service
	`, since)
	return rows, err
}
