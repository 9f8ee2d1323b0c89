package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/util"
)

// NoopAdapter marks every message sent without touching the network. It keeps
// the whole pipeline exercisable in environments without carrier credentials.
type NoopAdapter struct {
	rec *Recorder
}

func NewNoopAdapter(rec *Recorder) *NoopAdapter {
	return &NoopAdapter{rec: rec}
}

var _ Adapter = (*NoopAdapter)(nil)

func (a *NoopAdapter) Name() model.ServiceType { return model.ServiceNoop }
func (a *NoopAdapter) MaxSendAttempts() int    { return 1 }

func (a *NoopAdapter) SendMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) error {
	serviceID := "noop-" + util.NewID()
	raw, _ := json.Marshal(map[string]string{"sid": serviceID, "status": "sent"})
	a.rec.Sent(ctx, msg, serviceID, raw)
	return nil
}

// ParseWebhook accepts the same JSON shape the noop adapter emits, useful for
// driving the pipeline from tests and local tooling.
func (a *NoopAdapter) ParseWebhook(contentType string, body []byte, form url.Values) (*Webhook, error) {
	var payload struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
		From   string `json:"from"`
		To     string `json:"to"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("noop webhook: %w", err)
	}
	if payload.Sid == "" {
		return nil, fmt.Errorf("noop webhook: missing sid")
	}

	if payload.Body != "" {
		return &Webhook{Parts: []model.PendingMessagePart{{
			Service:        model.ServiceNoop,
			ServiceID:      payload.Sid,
			ParentID:       payload.Sid,
			PartIndex:      0,
			PartTotal:      1,
			ServiceMessage: body,
			Body:           payload.Body,
			UserNumber:     util.NormalizePhone(payload.To),
			ContactNumber:  util.NormalizePhone(payload.From),
		}}}, nil
	}

	outcome := model.OutcomeDelivered
	if payload.Status == "failed" {
		outcome = model.OutcomeFailed
	}
	return &Webhook{Reports: []model.DeliveryReport{{
		Service:   model.ServiceNoop,
		ServiceID: payload.Sid,
		Outcome:   outcome,
		Raw:       body,
	}}}, nil
}

func (a *NoopAdapter) VerifySignature(r *http.Request, body []byte, svc *model.MessagingService) bool {
	return true
}
