package model

import "time"

// PendingMessagePart stages one raw inbound carrier payload until the
// reassembler either produces a Message from its group or classifies the
// group unsolicited. Parts of a concatenated SMS share ParentID.
type PendingMessagePart struct {
	ID             int64       `db:"id"`
	Service        ServiceType `db:"service"`
	ServiceID      string      `db:"service_id"`
	ParentID       string      `db:"parent_id"`
	PartIndex      int         `db:"part_index"`
	PartTotal      int         `db:"part_total"`
	ServiceMessage []byte      `db:"service_message"`
	Body           string      `db:"body"`
	UserNumber     string      `db:"user_number"`
	ContactNumber  string      `db:"contact_number"`
	NumMedia       int         `db:"num_media"`
	CreatedAt      time.Time   `db:"created_at"`
}
