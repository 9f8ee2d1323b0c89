package reconcile

import (
	"context"
	"time"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/repository"
	"go.uber.org/zap"
)

// Sweeper is the scheduled follow-up pass: it re-attempts correlation for
// delivery reports that arrived before their message row was matchable, and
// watches per-service deliverability.
type Sweeper struct {
	messages repository.MessagesRepository
	events   repository.MessageEventsRepository

	Interval         time.Duration
	StatsWindow      time.Duration
	ErrorPercentWarn float64
}

func NewSweeper(messages repository.MessagesRepository, events repository.MessageEventsRepository) *Sweeper {
	return &Sweeper{
		messages:         messages,
		events:           events,
		Interval:         5 * time.Minute,
		StatsWindow:      24 * time.Hour,
		ErrorPercentWarn: 25.0,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Errors are logged, not returned: a failed
// sweep just waits for the next tick.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	s.rematchOrphans(ctx)
	s.checkDeliverability(ctx)
}

func (s *Sweeper) rematchOrphans(ctx context.Context) {
	orphans, err := s.events.ListUnmatched(ctx, 200)
	if err != nil {
		logger.Log.Error("sweep: list unmatched events", zap.Error(err))
		return
	}

	matched := 0
	for _, ev := range orphans {
		msg, err := s.messages.GetByServiceID(ctx, ev.Service, ev.ServiceID)
		if err != nil {
			logger.Log.Error("sweep: lookup message", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		if err := s.events.Attach(ctx, ev.ID, msg.ID); err != nil {
			logger.Log.Error("sweep: attach event", zap.Error(err))
			continue
		}

		// Re-apply the recorded outcome through the same guarded update the
		// live path uses.
		status, ok := outcomeStatus(model.ReportOutcome(ev.Outcome))
		if ok {
			if _, err := s.messages.ApplyReportStatus(ctx, ev.Service, ev.ServiceID, status, ev.ErrorCode); err != nil {
				logger.Log.Error("sweep: apply report", zap.Error(err))
				continue
			}
		}
		matched++
	}

	if matched > 0 {
		logger.Log.Info("sweep: rematched orphan delivery reports", zap.Int("count", matched))
	}
}

func outcomeStatus(o model.ReportOutcome) (model.SendStatus, bool) {
	switch o {
	case model.OutcomeDelivered:
		return model.StatusDelivered, true
	case model.OutcomeFailed:
		return model.StatusError, true
	default:
		return "", false
	}
}

// checkDeliverability computes each service's recent error percent as
// errors / (delivered + sent). The error count is deliberately not included
// in the denominator; the alert threshold is calibrated against this ratio.
func (s *Sweeper) checkDeliverability(ctx context.Context) {
	stats, err := s.messages.DeliveryStats(ctx, time.Now().Add(-s.StatsWindow))
	if err != nil {
		logger.Log.Error("sweep: delivery stats", zap.Error(err))
		return
	}

	for _, st := range stats {
		denom := st.Delivered + st.Sent
		if denom == 0 {
			continue
		}
		percent := float64(st.Errors) / float64(denom) * 100

		if percent >= s.ErrorPercentWarn {
			logger.Log.Warn("service error percent above threshold",
				zap.String("service", st.Service.String()),
				zap.Float64("error_percent", percent),
				zap.Int64("errors", st.Errors),
				zap.Int64("delivered", st.Delivered),
				zap.Int64("sent", st.Sent))
		}
	}
}
