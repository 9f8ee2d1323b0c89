package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/groundgame/textrelay/internal/inbound"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/jmoiron/sqlx"
)

const (
	TopicOutbound = "sms.outbound"
	TopicInbound  = "sms.inbound"
)

// Dispatcher moves work to the provider adapters. One implementation runs
// everything in-process, the other relays through the transactional outbox to
// Kafka workers; which one is live is decided at startup from config.
type Dispatcher interface {
	// Enlist stages outbound dispatch inside the send transaction, so a
	// crash between commit and carrier call can never lose the message.
	Enlist(ctx context.Context, tx *sqlx.Tx, msg model.Message) error

	// Flush completes outbound dispatch after the transaction committed.
	Flush(ctx context.Context, msg model.Message) error

	// DispatchInbound hands a staged part group to the reassembler, either
	// inline or via the queue.
	DispatchInbound(ctx context.Context, service model.ServiceType, parentID string) error
}

// QueuedDispatcher persists intent in the outbox; the relay publishes it to
// Kafka and the sender/inbound workers do the rest.
type QueuedDispatcher struct {
	outbox repository.OutboxRepository
}

func NewQueuedDispatcher(outbox repository.OutboxRepository) *QueuedDispatcher {
	return &QueuedDispatcher{outbox: outbox}
}

var _ Dispatcher = (*QueuedDispatcher)(nil)

func (d *QueuedDispatcher) Enlist(ctx context.Context, tx *sqlx.Tx, msg model.Message) error {
	payload, err := json.Marshal(model.Envelope{
		MessageID:      msg.ID,
		OrganizationID: msg.OrganizationID,
		Service:        msg.Service,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return d.outbox.Insert(ctx, tx, "message", msg.ID, TopicOutbound, payload)
}

func (d *QueuedDispatcher) Flush(ctx context.Context, msg model.Message) error { return nil }

func (d *QueuedDispatcher) DispatchInbound(ctx context.Context, service model.ServiceType, parentID string) error {
	payload, err := json.Marshal(model.InboundEnvelope{Service: service, ParentID: parentID})
	if err != nil {
		return fmt.Errorf("marshal inbound envelope: %w", err)
	}
	return d.outbox.Insert(ctx, nil, "inbound", parentID, TopicInbound, payload)
}

// SynchronousDispatcher runs the carrier call on the requesting goroutine,
// for single-process deployments without Kafka.
type SynchronousDispatcher struct {
	messages    repository.MessagesRepository
	services    repository.ServicesRepository
	providers   provider.Registry
	reassembler *inbound.Reassembler
}

func NewSynchronousDispatcher(
	messages repository.MessagesRepository,
	services repository.ServicesRepository,
	providers provider.Registry,
	reassembler *inbound.Reassembler,
) *SynchronousDispatcher {
	return &SynchronousDispatcher{
		messages:    messages,
		services:    services,
		providers:   providers,
		reassembler: reassembler,
	}
}

var _ Dispatcher = (*SynchronousDispatcher)(nil)

func (d *SynchronousDispatcher) Enlist(ctx context.Context, tx *sqlx.Tx, msg model.Message) error {
	// The row is inserted queued in the same tx; claiming it here keeps the
	// queued->sending transition atomic with the insert.
	_, err := d.messages.MarkSending(ctx, tx, msg.ID)
	return err
}

func (d *SynchronousDispatcher) Flush(ctx context.Context, msg model.Message) error {
	adapter, err := d.providers.For(msg.Service)
	if err != nil {
		return err
	}

	svc, err := d.services.GetDefault(ctx, msg.OrganizationID)
	if err != nil {
		return err
	}
	if svc == nil {
		return fmt.Errorf("no default messaging service for organization %d", msg.OrganizationID)
	}

	return adapter.SendMessage(ctx, &msg, svc)
}

func (d *SynchronousDispatcher) DispatchInbound(ctx context.Context, service model.ServiceType, parentID string) error {
	return d.reassembler.Process(ctx, service, parentID)
}
