package model

import (
	"database/sql"
	"time"
)

// LinkDomain is a rotatable shortlink hostname. current_usage_count stays in
// [0, max_usage_count); hitting the max resets the counter and stamps
// cycled_out_at, pushing the domain to the back of the rotation order.
type LinkDomain struct {
	ID                 int64        `db:"id"`
	OrganizationID     int64        `db:"organization_id"`
	Domain             string       `db:"domain"`
	MaxUsageCount      int          `db:"max_usage_count"`
	CurrentUsageCount  int          `db:"current_usage_count"`
	IsManuallyDisabled bool         `db:"is_manually_disabled"`
	CycledOutAt        sql.NullTime `db:"cycled_out_at"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
}

// CycleOnAdvance reports whether the next selection exhausts the usage
// budget: the counter then resets to 0 and cycled_out_at is stamped, instead
// of incrementing.
func (d *LinkDomain) CycleOnAdvance() bool {
	return d.CurrentUsageCount+1 >= d.MaxUsageCount
}

// UnhealthyLinkDomain excludes a domain from rotation until HealthyAgainAt.
type UnhealthyLinkDomain struct {
	ID             int64     `db:"id"`
	Domain         string    `db:"domain"`
	HealthyAgainAt time.Time `db:"healthy_again_at"`
	CreatedAt      time.Time `db:"created_at"`
}
