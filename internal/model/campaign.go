package model

import (
	"database/sql"
	"strings"
	"time"
)

// ContactStatus is the conversation-level status of a campaign contact,
// owned jointly with the CRUD layer. The pipeline only writes the
// transitions tied to message history.
type ContactStatus string

const (
	ContactNeedsMessage  ContactStatus = "needsMessage"
	ContactNeedsResponse ContactStatus = "needsResponse"
	ContactConvo         ContactStatus = "convo"
	ContactMessaged      ContactStatus = "messaged"
	ContactClosed        ContactStatus = "closed"
)

func (s ContactStatus) String() string { return string(s) }

func ParseContactStatus(s string) (ContactStatus, bool) {
	switch st := ContactStatus(strings.TrimSpace(s)); st {
	case ContactNeedsMessage, ContactNeedsResponse, ContactConvo, ContactMessaged, ContactClosed:
		return st, true
	default:
		return "", false
	}
}

// Conversation is the read view the gate needs for one campaign contact:
// campaign linkage, contact identity/timezone, and texting-hours settings
// resolved from campaign and organization rows.
type Conversation struct {
	CampaignContactID int64          `db:"campaign_contact_id"`
	OrganizationID    int64          `db:"organization_id"`
	CampaignID        int64          `db:"campaign_id"`
	ContactNumber     string         `db:"contact_number"`
	ContactTimezone   sql.NullString `db:"contact_timezone"`
	CampaignTimezone  sql.NullString `db:"campaign_timezone"`
	OrgTimezone       string         `db:"org_timezone"`
	MessageStatus     ContactStatus  `db:"message_status"`
	CampaignArchived  bool           `db:"campaign_archived"`
	EnforceHours      bool           `db:"enforce_hours"`
	TextingHoursStart int            `db:"texting_hours_start"`
	TextingHoursEnd   int            `db:"texting_hours_end"`
	MonthlyLimit      sql.NullInt64  `db:"monthly_limit"`
}

// Timezone resolves the effective recipient timezone: contact override,
// else campaign, else organization default.
func (c Conversation) Timezone() string {
	if c.ContactTimezone.Valid && c.ContactTimezone.String != "" {
		return c.ContactTimezone.String
	}
	if c.CampaignTimezone.Valid && c.CampaignTimezone.String != "" {
		return c.CampaignTimezone.String
	}
	return c.OrgTimezone
}

// Assignment ties a texter to a campaign contact.
type Assignment struct {
	ID                int64     `db:"id"`
	UserID            int64     `db:"user_id"`
	CampaignContactID int64     `db:"campaign_contact_id"`
	CreatedAt         time.Time `db:"created_at"`
}
