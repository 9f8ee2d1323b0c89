package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/inbound"
	"github.com/groundgame/textrelay/internal/kafka"
	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/model"
)

// Inbound consumes staged part-group references and runs reassembly.
// Reassembly is idempotent (the parts are deleted with the message insert),
// so redelivered envelopes are harmless.
type Inbound struct {
	Consumer    *kafka.Consumer
	Reassembler *inbound.Reassembler

	Workers int
}

func NewInbound(consumer *kafka.Consumer, reassembler *inbound.Reassembler, workers int) *Inbound {
	return &Inbound{Consumer: consumer, Reassembler: reassembler, Workers: workers}
}

func (w *Inbound) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

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
					logger.Log.Warn("inbound: kafka fetch failed", zap.Error(err))
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

func (w *Inbound) runProcessor(ctx context.Context, in <-chan kafka.Message) {
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

func (w *Inbound) processOne(ctx context.Context, m kafka.Message) {
	var env model.InboundEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.ParentID == "" {
		logger.Log.Warn("inbound: bad envelope", zap.Error(err))
		_ = w.Consumer.Commit(ctx, m)
		return
	}

	if err := w.Reassembler.Process(ctx, env.Service, env.ParentID); err != nil {
		logger.Log.Error("inbound: reassembly failed",
			zap.String("service", env.Service.String()),
			zap.String("parent_id", env.ParentID),
			zap.Error(err))
		return
	}

	if err := w.Consumer.Commit(ctx, m); err != nil {
		logger.Log.Warn("inbound: commit failed", zap.Error(err))
	}
}
