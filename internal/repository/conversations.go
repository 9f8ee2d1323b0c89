package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// ConversationsRepository is the read/write boundary to the campaign-contact
// tables owned by the CRUD layer. The pipeline reads the conversation view
// and writes only message_status.
type ConversationsRepository interface {
	Get(ctx context.Context, campaignContactID int64) (*model.Conversation, error)

	// UpdateMessageStatus applies the contact status transition inside the
	// same transaction as the message insert.
	UpdateMessageStatus(ctx context.Context, tx *sqlx.Tx, campaignContactID int64, status model.ContactStatus) error

	// FindByNumbers matches an inbound sender to the most recent
	// campaign-contact pairing for (messaging-service number, contact cell).
	FindByNumbers(ctx context.Context, userNumber, contactNumber string) (*InboundMatch, error)
}

// InboundMatch identifies the conversation an inbound payload belongs to.
type InboundMatch struct {
	CampaignContactID int64         `db:"campaign_contact_id"`
	OrganizationID    int64         `db:"organization_id"`
	AssignmentID      sql.NullInt64 `db:"assignment_id"`
}

type ConversationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewConversationsRepository(db *sqlx.DB) *ConversationsRepositoryImpl {
	return &ConversationsRepositoryImpl{db: db}
}

var _ ConversationsRepository = (*ConversationsRepositoryImpl)(nil)

func (r *ConversationsRepositoryImpl) Get(ctx context.Context, campaignContactID int64) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `
		SELECT cc.id              AS campaign_contact_id,
		       o.id               AS organization_id,
		       ca.id              AS campaign_id,
		       cc.cell            AS contact_number,
		       cc.timezone        AS contact_timezone,
		       ca.timezone        AS campaign_timezone,
		       o.timezone         AS org_timezone,
		       cc.message_status  AS message_status,
		       ca.is_archived     AS campaign_archived,
		       o.enforce_texting_hours AS enforce_hours,
		       COALESCE(ca.texting_hours_start, o.texting_hours_start) AS texting_hours_start,
		       COALESCE(ca.texting_hours_end, o.texting_hours_end)     AS texting_hours_end,
		       o.monthly_message_limit AS monthly_limit
		  FROM campaign_contacts cc
		  JOIN campaigns ca      ON ca.id = cc.campaign_id
		  JOIN organizations o   ON o.id = ca.organization_id
		 WHERE cc.id = ?
		 LIMIT 1
	`, campaignContactID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationsRepositoryImpl) UpdateMessageStatus(ctx context.Context, tx *sqlx.Tx, campaignContactID int64, status model.ContactStatus) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE campaign_contacts SET message_status = ?, updated_at = NOW() WHERE id = ?
		`, status.String(), campaignContactID)
		return err
	})
}

func (r *ConversationsRepositoryImpl) FindByNumbers(ctx context.Context, userNumber, contactNumber string) (*InboundMatch, error) {
	var m InboundMatch
	err := r.db.GetContext(ctx, &m, `
		SELECT cc.id        AS campaign_contact_id,
		       ca.organization_id AS organization_id,
		       a.id         AS assignment_id
		  FROM campaign_contacts cc
		  JOIN campaigns ca ON ca.id = cc.campaign_id
		  JOIN messaging_services ms
		            ON ms.organization_id = ca.organization_id AND ms.user_number = ?
		  LEFT JOIN assignments a ON a.campaign_contact_id = cc.id
		 WHERE cc.cell = ?
		 ORDER BY cc.updated_at DESC
		 LIMIT 1
	`, userNumber, contactNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
