package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/kafka"
	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
)

// Sender consumes outbound envelopes from Kafka and drives the carrier call.
// Delivery is at-least-once: the queued->sending claim in the DB is what
// makes a redelivered envelope a no-op.
type Sender struct {
	Consumer *kafka.Consumer
	Messages repository.MessagesRepository
	Services repository.ServicesRepository
	Adapters provider.Registry

	Workers int
}

func NewSender(
	consumer *kafka.Consumer,
	messages repository.MessagesRepository,
	services repository.ServicesRepository,
	adapters provider.Registry,
	workers int,
) *Sender {
	return &Sender{
		Consumer: consumer,
		Messages: messages,
		Services: services,
		Adapters: adapters,
		Workers:  workers,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Sender) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 32
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Log.Warn("sender: kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < w.Workers; i++ {
		go w.runProcessor(ctx, msgCh)
	}

	<-ctx.Done()
	return nil
}

func (w *Sender) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			w.processOne(ctx, m)
		}
	}
}

func (w *Sender) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.MessageID == "" {
		// poison -> commit, skip
		logger.Log.Warn("sender: bad envelope", zap.Error(err))
		_ = w.Consumer.Commit(ctx, m)
		return
	}

	if err := w.send(ctx, env); err != nil {
		// Leave the envelope uncommitted only for infrastructure errors, so
		// Kafka redelivers; carrier outcomes are already settled on the row.
		logger.Log.Error("sender: dispatch failed",
			zap.String("message_id", env.MessageID),
			zap.Error(err))
		return
	}

	if err := w.Consumer.Commit(ctx, m); err != nil {
		logger.Log.Warn("sender: commit failed", zap.Error(err))
	}
}

func (w *Sender) send(ctx context.Context, env model.Envelope) error {
	msg, err := w.Messages.Get(ctx, env.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		logger.Log.Warn("sender: envelope references unknown message",
			zap.String("message_id", env.MessageID))
		return nil
	}

	claimed, err := w.Messages.MarkSending(ctx, nil, msg.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker took it, or it already settled.
		return nil
	}
	msg.SendStatus = model.StatusSending
	metrics.MessagesTotal.WithLabelValues("sending", msg.Service.String()).Inc()

	adapter, err := w.Adapters.For(msg.Service)
	if err != nil {
		return err
	}
	svc, err := w.Services.GetDefault(ctx, msg.OrganizationID)
	if err != nil {
		return err
	}
	if svc == nil {
		return fmt.Errorf("no default messaging service for organization %d", msg.OrganizationID)
	}

	// Carrier failures settle the row inside SendMessage; an error here is
	// configuration, not delivery.
	return adapter.SendMessage(ctx, msg, svc)
}
