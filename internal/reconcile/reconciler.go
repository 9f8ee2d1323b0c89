package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/util"
	"go.uber.org/zap"
)

// Reconciler applies asynchronous carrier delivery reports to local message
// state. Reports arrive at-least-once and in arbitrary order; every write
// here is conditional or dedup-guarded so a replay or a race is a no-op, not
// a regression.
type Reconciler struct {
	messages  repository.MessagesRepository
	events    repository.MessageEventsRepository
	audit     repository.AuditRepository
	providers provider.Registry
}

func New(
	messages repository.MessagesRepository,
	events repository.MessageEventsRepository,
	audit repository.AuditRepository,
	providers provider.Registry,
) *Reconciler {
	return &Reconciler{
		messages:  messages,
		events:    events,
		audit:     audit,
		providers: providers,
	}
}

// Process runs one report through the reconciliation steps: durably log the
// raw payload first (even when no message matches yet), drop exact replays,
// then attempt the guarded state update and metadata backfill.
func (r *Reconciler) Process(ctx context.Context, report model.DeliveryReport) error {
	// Step 1: the raw payload is logged no matter what. A failure here must
	// surface so the carrier retries the webhook.
	if r.audit != nil {
		ev := repository.AuditEvent{
			ID:        util.NewID(),
			Service:   report.Service.String(),
			Kind:      "delivery_report",
			ServiceID: report.ServiceID,
			Payload:   string(report.Raw),
		}
		if err := r.audit.Insert(ctx, ev); err != nil {
			return fmt.Errorf("audit delivery report: %w", err)
		}
	}

	msg, err := r.messages.GetByServiceID(ctx, report.Service, report.ServiceID)
	if err != nil {
		return fmt.Errorf("lookup message by service id: %w", err)
	}

	event := model.MessageEvent{
		Service:   report.Service,
		ServiceID: report.ServiceID,
		Kind:      "delivery_report",
		Outcome:   string(report.Outcome),
		ErrorCode: report.ErrorCode,
		DedupKey:  model.EventDedupKey(report.Service, report.ServiceID, "delivery_report", report.Raw),
		Payload:   report.Raw,
	}
	if msg != nil {
		event.MessageID = sql.NullString{String: msg.ID, Valid: true}
	}

	inserted, err := r.events.Append(ctx, nil, event)
	if err != nil {
		return fmt.Errorf("append delivery event: %w", err)
	}
	if !inserted {
		// exact replay: already logged, already applied (or applying)
		metrics.DeliveryReportsTotal.WithLabelValues(report.Service.String(), "duplicate").Inc()
		return nil
	}

	if msg == nil {
		// Report beat the send response. The event row stays unmatched and
		// the sweeper retries correlation later.
		metrics.DeliveryReportsTotal.WithLabelValues(report.Service.String(), "orphan").Inc()
		logger.Log.Info("delivery report for unknown message",
			zap.String("service", report.Service.String()),
			zap.String("service_id", report.ServiceID))
		return nil
	}

	if err := r.apply(ctx, report); err != nil {
		return err
	}

	return r.backfill(ctx, report)
}

// apply performs the guarded state update for one report against whatever
// message currently matches its service id.
func (r *Reconciler) apply(ctx context.Context, report model.DeliveryReport) error {
	var (
		rows int64
		err  error
	)

	switch report.Outcome {
	case model.OutcomeDelivered:
		rows, err = r.messages.ApplyReportStatus(ctx, report.Service, report.ServiceID, model.StatusDelivered, "")
		if err == nil && rows > 0 {
			metrics.MessagesTotal.WithLabelValues("delivered", report.Service.String()).Inc()
		}

	case model.OutcomeFailed:
		rows, err = r.messages.ApplyReportStatus(ctx, report.Service, report.ServiceID, model.StatusError, report.ErrorCode)
		if err == nil && rows > 0 {
			metrics.MessagesTotal.WithLabelValues("error", report.Service.String()).Inc()
		}

	case model.OutcomeTransient:
		var attempts int
		attempts, err = r.messages.IncrementAttempts(ctx, report.Service, report.ServiceID)
		if err != nil {
			break
		}
		if attempts >= r.maxAttempts(report.Service) {
			rows, err = r.messages.ApplyReportStatus(ctx, report.Service, report.ServiceID, model.StatusError, report.ErrorCode)
			if err == nil && rows > 0 {
				metrics.MessagesTotal.WithLabelValues("error", report.Service.String()).Inc()
			}
		} else {
			rows = 1 // counted, no state change yet
		}

	case model.OutcomeProgress:
		// intermediate status: logged, nothing to apply
		metrics.DeliveryReportsTotal.WithLabelValues(report.Service.String(), "applied").Inc()
		return nil

	default:
		return fmt.Errorf("unknown report outcome %q", report.Outcome)
	}

	if err != nil {
		return fmt.Errorf("apply delivery report: %w", err)
	}

	if rows == 0 {
		// already terminal: out-of-order or repeated terminal report
		metrics.DeliveryReportsTotal.WithLabelValues(report.Service.String(), "stale").Inc()
		return nil
	}

	metrics.DeliveryReportsTotal.WithLabelValues(report.Service.String(), "applied").Inc()
	return nil
}

func (r *Reconciler) backfill(ctx context.Context, report model.DeliveryReport) error {
	if report.NumSegments == 0 && report.NumMedia == 0 {
		return nil
	}
	if err := r.messages.BackfillCounts(ctx, report.Service, report.ServiceID, report.NumSegments, report.NumMedia); err != nil {
		return fmt.Errorf("backfill counts: %w", err)
	}
	return nil
}

func (r *Reconciler) maxAttempts(service model.ServiceType) int {
	if a, err := r.providers.For(service); err == nil {
		return a.MaxSendAttempts()
	}
	return 5
}
