package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/groundgame/textrelay/internal/model"
)

// Webhook is one classified carrier push: either staged inbound parts or
// delivery reports, never both empty after a successful parse.
type Webhook struct {
	Parts   []model.PendingMessagePart
	Reports []model.DeliveryReport
}

// Adapter is the uniform contract wrapping one carrier. Carrier-level send
// failures never escape SendMessage; they settle the message row instead.
// Only configuration errors and context cancellation propagate, leaving the
// row unsettled.
type Adapter interface {
	Name() model.ServiceType

	// SendMessage calls the carrier API and then unconditionally settles the
	// message row: sent + service_id on acknowledgment, error after the
	// attempt budget (or immediately on permanent rejection).
	SendMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) error

	// ParseWebhook classifies one raw push into inbound parts or delivery
	// reports based on payload shape.
	ParseWebhook(contentType string, body []byte, form url.Values) (*Webhook, error)

	// VerifySignature checks the provider's authentication scheme for a
	// webhook request. Providers without one return true.
	VerifySignature(r *http.Request, body []byte, svc *model.MessagingService) bool

	// MaxSendAttempts is the provider's retry budget for transient failures,
	// shared between the initial call loop and webhook-reported retries.
	MaxSendAttempts() int
}

// Registry maps a configured service type to its adapter.
type Registry map[model.ServiceType]Adapter

func (r Registry) For(t model.ServiceType) (Adapter, error) {
	a, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for service %q", t)
	}
	return a, nil
}

// carrierError classifies one failed carrier exchange.
type carrierError struct {
	code      string
	permanent bool
	err       error
}

func (e *carrierError) Error() string {
	return fmt.Sprintf("carrier error code=%s permanent=%t: %v", e.code, e.permanent, e.err)
}

func permanentErr(code string, err error) *carrierError {
	return &carrierError{code: code, permanent: true, err: err}
}

func transientErr(code string, err error) *carrierError {
	return &carrierError{code: code, permanent: false, err: err}
}

// validitySeconds computes the carrier-side expiry window:
// min(provider max, time until send_before minus safety padding).
// Zero means "do not set one".
func validitySeconds(msg *model.Message, maxValidity, padding time.Duration, now time.Time) int64 {
	limit := maxValidity
	if msg.SendBefore.Valid {
		until := msg.SendBefore.Time.Sub(now) - padding
		if until <= 0 {
			return 1
		}
		if limit <= 0 || until < limit {
			limit = until
		}
	}
	if limit <= 0 {
		return 0
	}
	return int64(limit / time.Second)
}
