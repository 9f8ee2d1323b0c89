package repository

import (
	"context"
	"time"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// AuditEvent is one raw carrier payload recorded for audits and support.
// ClickHouse keeps the full history; MySQL only keeps what reconciliation
// needs. Unsolicited inbound payloads land here and nowhere else.
type AuditEvent struct {
	ID        string    `db:"id"`
	Service   string    `db:"service"`
	Kind      string    `db:"kind"` // inbound | delivery_report | send_response | unsolicited
	ServiceID string    `db:"service_id"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

type AuditRepository interface {
	Insert(ctx context.Context, ev AuditEvent) error
	List(ctx context.Context, service model.ServiceType, kind string, limit, offset int) ([]AuditEvent, error)
}

type AuditRepositoryImpl struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewAuditRepository(ch *sqlx.DB) *AuditRepositoryImpl {
	return &AuditRepositoryImpl{ch: ch}
}

var _ AuditRepository = (*AuditRepositoryImpl)(nil)

func (r *AuditRepositoryImpl) Insert(ctx context.Context, ev AuditEvent) error {
	_, err := r.ch.ExecContext(ctx, `
		INSERT INTO textrelay.carrier_events (id, service, kind, service_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Service, ev.Kind, ev.ServiceID, ev.Payload, time.Now().UTC())
	return err
}

func (r *AuditRepositoryImpl) List(ctx context.Context, service model.ServiceType, kind string, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, service, kind, service_id, payload, created_at
		FROM textrelay.carrier_events
		WHERE 1 = 1
	`
	args := []any{}

	if service != "" {
		q += " AND service = ?"
		args = append(args, service.String())
	}
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []AuditEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
