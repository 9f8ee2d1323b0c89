package model

// ReportOutcome is the normalized vocabulary every provider's delivery-report
// statuses map onto.
type ReportOutcome string

const (
	OutcomeDelivered ReportOutcome = "delivered"
	OutcomeFailed    ReportOutcome = "failed"    // permanent
	OutcomeTransient ReportOutcome = "transient" // retry-countable failure
	OutcomeProgress  ReportOutcome = "progress"  // accepted/sending, no state change
)

// DeliveryReport is one normalized carrier callback. Correlation with the
// local row happens via (Service, ServiceID), never the local message id.
type DeliveryReport struct {
	Service     ServiceType
	ServiceID   string
	Outcome     ReportOutcome
	ErrorCode   string
	NumSegments int
	NumMedia    int
	Raw         []byte
}

// Envelope is the payload published through the outbox for queued dispatch.
type Envelope struct {
	MessageID      string      `json:"message_id"`
	OrganizationID int64       `json:"organization_id"`
	Service        ServiceType `json:"service"`
}

// InboundEnvelope points a queued worker at a staged part group.
type InboundEnvelope struct {
	Service  ServiceType `json:"service"`
	ParentID string      `json:"parent_id"`
}
