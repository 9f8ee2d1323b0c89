package model

import (
	"database/sql"
	"strings"
	"time"
)

type SendStatus string

const (
	StatusQueued       SendStatus = "queued"
	StatusSending      SendStatus = "sending"
	StatusSent         SendStatus = "sent"
	StatusDelivered    SendStatus = "delivered"
	StatusError        SendStatus = "error"
	StatusPaused       SendStatus = "paused"
	StatusNotAttempted SendStatus = "not_attempted"
)

func (s SendStatus) String() string { return string(s) }

func (s SendStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusDelivered,
		StatusError, StatusPaused, StatusNotAttempted:
		return true
	}
	return false
}

// Terminal reports whether no delivery report may move the message further.
// Paused and not_attempted are administrative holds: terminal until released
// by hand, so they count here too.
func (s SendStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusError ||
		s == StatusPaused || s == StatusNotAttempted
}

// rank orders statuses along the lifecycle. Statuses outside the normal
// success path (error, holds) are handled explicitly in CanTransition.
func (s SendStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the lifecycle:
// queued -> sending -> sent -> delivered, with error reachable from any
// non-terminal state. Delivered and error never transition out.
func (s SendStatus) CanTransition(next SendStatus) bool {
	if s == StatusDelivered || s == StatusError {
		return false
	}
	if next == StatusError {
		return true
	}
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

func ParseSendStatus(s string) (SendStatus, bool) {
	st := SendStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Message is one logical SMS, outbound or inbound, persisted in messages.
// The raw carrier payload history lives in message_events (append-only),
// not on this row.
type Message struct {
	ID                string         `db:"id"`
	OrganizationID    int64          `db:"organization_id"`
	IsFromContact     bool           `db:"is_from_contact"`
	ContactNumber     string         `db:"contact_number"`
	UserNumber        string         `db:"user_number"`
	Text              string         `db:"text"`
	SendStatus        SendStatus     `db:"send_status"`
	Service           ServiceType    `db:"service"`
	ServiceID         sql.NullString `db:"service_id"`
	AssignmentID      sql.NullInt64  `db:"assignment_id"`
	CampaignContactID sql.NullInt64  `db:"campaign_contact_id"`
	AttemptCount      int            `db:"attempt_count"`
	NumSegments       sql.NullInt64  `db:"num_segments"`
	NumMedia          sql.NullInt64  `db:"num_media"`
	ErrorCodes        sql.NullString `db:"error_codes"`
	QueuedAt          time.Time      `db:"queued_at"`
	SentAt            sql.NullTime   `db:"sent_at"`
	ServiceResponseAt sql.NullTime   `db:"service_response_at"`
	SendBefore        sql.NullTime   `db:"send_before"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}
