package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/secrets"
	"github.com/jmoiron/sqlx"
)

// ServicesRepository resolves per-organization carrier config. Auth tokens are
// stored encrypted; rows handed out carry the decrypted token.
type ServicesRepository interface {
	GetDefault(ctx context.Context, orgID int64) (*model.MessagingService, error)
	GetByUserNumber(ctx context.Context, userNumber string) (*model.MessagingService, error)
}

type ServicesRepositoryImpl struct {
	db    *sqlx.DB
	codec *secrets.Codec
}

// NewServicesRepository constructs the repo. codec may be nil when all
// configured services are the noop provider (no credentials to decrypt).
func NewServicesRepository(db *sqlx.DB, codec *secrets.Codec) *ServicesRepositoryImpl {
	return &ServicesRepositoryImpl{db: db, codec: codec}
}

var _ ServicesRepository = (*ServicesRepositoryImpl)(nil)

const serviceColumns = `
	id, organization_id, service_type, account_sid, auth_token, user_number,
	is_default, created_at, updated_at`

func (r *ServicesRepositoryImpl) GetDefault(ctx context.Context, orgID int64) (*model.MessagingService, error) {
	var s model.MessagingService
	err := r.db.GetContext(ctx, &s, `
		SELECT `+serviceColumns+`
		  FROM messaging_services
		 WHERE organization_id = ? AND is_default = 1
		 LIMIT 1
	`, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.decrypt(&s)
}

func (r *ServicesRepositoryImpl) GetByUserNumber(ctx context.Context, userNumber string) (*model.MessagingService, error) {
	var s model.MessagingService
	err := r.db.GetContext(ctx, &s, `
		SELECT `+serviceColumns+`
		  FROM messaging_services
		 WHERE user_number = ?
		 LIMIT 1
	`, userNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.decrypt(&s)
}

func (r *ServicesRepositoryImpl) decrypt(s *model.MessagingService) (*model.MessagingService, error) {
	if s.AuthToken == "" || s.ServiceType == model.ServiceNoop {
		return s, nil
	}
	if r.codec == nil {
		return nil, fmt.Errorf("messaging service %d has credentials but no encryption key is configured", s.ID)
	}
	token, err := r.codec.Decrypt(s.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt auth token for service %d: %w", s.ID, err)
	}
	s.AuthToken = token
	return s, nil
}
