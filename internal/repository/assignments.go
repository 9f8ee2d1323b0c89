package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// AssignmentsRepository covers the assignment lookup and the role check the
// send gate needs. User CRUD lives elsewhere.
type AssignmentsRepository interface {
	GetForContact(ctx context.Context, campaignContactID int64) (*model.Assignment, error)

	// Create attaches the acting user to an unassigned conversation. Runs in
	// the caller's transaction so the assignment and message commit together.
	Create(ctx context.Context, tx *sqlx.Tx, userID, campaignContactID int64) (int64, error)

	// HasSupervisorRole reports whether the user holds supervisor or above
	// in the organization (the admin message-review path).
	HasSupervisorRole(ctx context.Context, userID, orgID int64) (bool, error)
}

type AssignmentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAssignmentsRepository(db *sqlx.DB) *AssignmentsRepositoryImpl {
	return &AssignmentsRepositoryImpl{db: db}
}

var _ AssignmentsRepository = (*AssignmentsRepositoryImpl)(nil)

func (r *AssignmentsRepositoryImpl) GetForContact(ctx context.Context, campaignContactID int64) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.GetContext(ctx, &a, `
		SELECT id, user_id, campaign_contact_id, created_at
		  FROM assignments
		 WHERE campaign_contact_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1
	`, campaignContactID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AssignmentsRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, userID, campaignContactID int64) (int64, error) {
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (user_id, campaign_contact_id, created_at)
			VALUES (?, ?, NOW())
		`, userID, campaignContactID)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (r *AssignmentsRepositoryImpl) HasSupervisorRole(ctx context.Context, userID, orgID int64) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx, `
		SELECT 1 FROM user_organizations
		 WHERE user_id = ? AND organization_id = ?
		   AND role IN ('supervisor', 'admin', 'owner')
		 LIMIT 1
	`, userID, orgID).Scan(&one)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
