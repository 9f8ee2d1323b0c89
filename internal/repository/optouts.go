package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// OptOutsRepository answers the send-time opt-out check. Row creation belongs
// to the opt-out confirmation flow outside this pipeline.
type OptOutsRepository interface {
	// IsOptedOut reports whether the cell is opted out. With global scope the
	// organization filter is dropped: any org's opt-out blocks the send.
	IsOptedOut(ctx context.Context, cell string, orgID int64, globalScope bool) (bool, error)
}

type OptOutsRepositoryImpl struct {
	db *sqlx.DB
}

func NewOptOutsRepository(db *sqlx.DB) *OptOutsRepositoryImpl {
	return &OptOutsRepositoryImpl{db: db}
}

var _ OptOutsRepository = (*OptOutsRepositoryImpl)(nil)

func (r *OptOutsRepositoryImpl) IsOptedOut(ctx context.Context, cell string, orgID int64, globalScope bool) (bool, error) {
	q := `SELECT 1 FROM opt_outs WHERE cell = ?`
	args := []any{cell}
	if !globalScope {
		q += ` AND organization_id = ?`
		args = append(args, orgID)
	}
	q += ` LIMIT 1`

	var one int
	err := r.db.QueryRowxContext(ctx, q, args...).Scan(&one)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
