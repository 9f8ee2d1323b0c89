package model

import (
	"strings"
	"time"
)

type ServiceType string

const (
	ServiceTwilio    ServiceType = "twilio"
	ServiceVonage    ServiceType = "vonage"
	ServiceBandwidth ServiceType = "bandwidth"
	ServiceNoop      ServiceType = "noop"
)

func (t ServiceType) String() string { return string(t) }

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTwilio, ServiceVonage, ServiceBandwidth, ServiceNoop:
		return true
	}
	return false
}

func ParseServiceType(s string) (ServiceType, bool) {
	t := ServiceType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// MessagingService holds per-organization carrier credentials. AuthToken is
// AES-GCM encrypted at rest; repositories hand out the decrypted value.
type MessagingService struct {
	ID             int64       `db:"id"`
	OrganizationID int64       `db:"organization_id"`
	ServiceType    ServiceType `db:"service_type"`
	AccountSID     string      `db:"account_sid"`
	AuthToken      string      `db:"auth_token"`
	UserNumber     string      `db:"user_number"`
	IsDefault      bool        `db:"is_default"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}
