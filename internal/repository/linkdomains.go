package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// LinkDomainsRepository owns the usage-rotation columns of link_domains.
// Selection and advance must run inside one transaction so the row lock
// covers the counter update.
type LinkDomainsRepository interface {
	// SelectEligibleForUpdate locks and returns the next rotation candidate:
	// enabled, not currently unhealthy, least recently cycled then least
	// used, skipping rows locked by a concurrent selector. Returns nil when
	// no eligible domain exists.
	SelectEligibleForUpdate(ctx context.Context, tx *sqlx.Tx, orgID int64) (*model.LinkDomain, error)

	// Advance increments current_usage_count; when the increment would reach
	// max_usage_count, the counter resets to 0 and cycled_out_at is stamped.
	Advance(ctx context.Context, tx *sqlx.Tx, d *model.LinkDomain) error

	MarkUnhealthy(ctx context.Context, domain string, healthyAgainAt sql.NullTime) error
}

type LinkDomainsRepositoryImpl struct {
	db *sqlx.DB
}

func NewLinkDomainsRepository(db *sqlx.DB) *LinkDomainsRepositoryImpl {
	return &LinkDomainsRepositoryImpl{db: db}
}

var _ LinkDomainsRepository = (*LinkDomainsRepositoryImpl)(nil)

func (r *LinkDomainsRepositoryImpl) SelectEligibleForUpdate(ctx context.Context, tx *sqlx.Tx, orgID int64) (*model.LinkDomain, error) {
	var d model.LinkDomain
	err := tx.GetContext(ctx, &d, `
		SELECT ld.id, ld.organization_id, ld.domain, ld.max_usage_count,
		       ld.current_usage_count, ld.is_manually_disabled, ld.cycled_out_at,
		       ld.created_at, ld.updated_at
		  FROM link_domains ld
		 WHERE ld.organization_id = ?
		   AND ld.is_manually_disabled = 0
		   AND NOT EXISTS (
		         SELECT 1 FROM unhealthy_link_domains u
		          WHERE u.domain = ld.domain AND u.healthy_again_at > NOW()
		       )
		 ORDER BY ld.cycled_out_at ASC, ld.current_usage_count ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED
	`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *LinkDomainsRepositoryImpl) Advance(ctx context.Context, tx *sqlx.Tx, d *model.LinkDomain) error {
	if d.CycleOnAdvance() {
		_, err := tx.ExecContext(ctx, `
			UPDATE link_domains
			   SET current_usage_count = 0, cycled_out_at = NOW(), updated_at = NOW()
			 WHERE id = ?
		`, d.ID)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE link_domains
		   SET current_usage_count = current_usage_count + 1, updated_at = NOW()
		 WHERE id = ?
	`, d.ID)
	return err
}

func (r *LinkDomainsRepositoryImpl) MarkUnhealthy(ctx context.Context, domain string, healthyAgainAt sql.NullTime) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO unhealthy_link_domains (domain, healthy_again_at, created_at)
		VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE healthy_again_at = VALUES(healthy_again_at)
	`, domain, healthyAgainAt)
	return err
}
