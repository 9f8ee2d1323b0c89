package provider

import (
	"context"
	"database/sql"
	"time"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/usage"
	"github.com/groundgame/textrelay/internal/util"
	"go.uber.org/zap"
)

// Recorder settles message state after a carrier exchange and keeps the
// append-only payload log. Shared by all adapters so the settle semantics
// stay in one place.
type Recorder struct {
	Messages repository.MessagesRepository
	Events   repository.MessageEventsRepository
	Audit    repository.AuditRepository
	Usage    *usage.Counter
}

// Sent records a carrier acknowledgment for the initial API call.
func (r *Recorder) Sent(ctx context.Context, msg *model.Message, serviceID string, raw []byte) {
	if err := r.Messages.MarkSent(ctx, msg.ID, serviceID); err != nil {
		logger.Log.Error("mark sent failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	r.appendEvent(ctx, msg.Service, serviceID, "send_response", raw, msg.ID)
	r.audit(ctx, msg.Service, "send_response", serviceID, raw)

	if r.Usage != nil {
		if err := r.Usage.Increment(ctx, msg.OrganizationID, time.Now()); err != nil {
			logger.Log.Warn("usage increment failed",
				zap.Int64("org_id", msg.OrganizationID), zap.Error(err))
		}
	}

	metrics.MessagesTotal.WithLabelValues("sent", msg.Service.String()).Inc()
}

// Attempt logs one failed attempt without settling the row. The payload still
// lands in the append-only log so the retry history is auditable.
func (r *Recorder) Attempt(ctx context.Context, msg *model.Message, code string, raw []byte) {
	r.appendEvent(ctx, msg.Service, msg.ID, "send_response", raw, msg.ID)
	r.audit(ctx, msg.Service, "send_response", msg.ID, raw)
}

// Failed drives the message to error once the budget is spent or the carrier
// rejected permanently.
func (r *Recorder) Failed(ctx context.Context, msg *model.Message, code string, raw []byte) {
	if err := r.Messages.MarkError(ctx, msg.ID, code); err != nil {
		logger.Log.Error("mark error failed",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}

	if len(raw) > 0 {
		r.appendEvent(ctx, msg.Service, msg.ID, "send_response", raw, msg.ID)
		r.audit(ctx, msg.Service, "send_response", msg.ID, raw)
	}

	metrics.MessagesTotal.WithLabelValues("error", msg.Service.String()).Inc()
}

func (r *Recorder) appendEvent(ctx context.Context, service model.ServiceType, serviceID, kind string, raw []byte, messageID string) {
	ev := model.MessageEvent{
		MessageID: sql.NullString{String: messageID, Valid: messageID != ""},
		Service:   service,
		ServiceID: serviceID,
		Kind:      kind,
		DedupKey:  model.EventDedupKey(service, serviceID, kind, raw),
		Payload:   raw,
	}
	if _, err := r.Events.Append(ctx, nil, ev); err != nil {
		logger.Log.Error("append message event failed",
			zap.String("service_id", serviceID), zap.Error(err))
	}
}

func (r *Recorder) audit(ctx context.Context, service model.ServiceType, kind, serviceID string, raw []byte) {
	if r.Audit == nil {
		return
	}
	ev := repository.AuditEvent{
		ID:        util.NewID(),
		Service:   service.String(),
		Kind:      kind,
		ServiceID: serviceID,
		Payload:   string(raw),
	}
	if err := r.Audit.Insert(ctx, ev); err != nil {
		logger.Log.Warn("audit insert failed", zap.Error(err))
	}
}
