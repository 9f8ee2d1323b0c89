package model

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// MessageEvent is one appended raw carrier payload for a message. Rows are
// insert-only; reconciliation never rewrites an earlier payload. MessageID is
// NULL when the report arrived before the local row was matchable — the
// sweeper re-attempts those.
type MessageEvent struct {
	ID        int64          `db:"id"`
	MessageID sql.NullString `db:"message_id"`
	Service   ServiceType    `db:"service"`
	ServiceID string         `db:"service_id"`
	Kind      string         `db:"kind"`    // send_response | delivery_report | inbound
	Outcome   string         `db:"outcome"` // normalized report outcome, empty for non-reports
	ErrorCode string         `db:"error_code"`
	DedupKey  string         `db:"dedup_key"`
	Payload   []byte         `db:"payload"`
	CreatedAt time.Time      `db:"created_at"`
}

// EventDedupKey fingerprints a raw payload so replayed webhooks collapse onto
// the same message_events row.
func EventDedupKey(service ServiceType, serviceID, kind string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(service))
	h.Write([]byte{0})
	h.Write([]byte(serviceID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
