package worker

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
)

type senderMessages struct {
	msg     *model.Message
	claimed bool
	errored bool
}

func (f *senderMessages) InsertQueued(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	return nil
}

func (f *senderMessages) InsertInbound(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	return nil
}

func (f *senderMessages) Get(ctx context.Context, id string) (*model.Message, error) {
	return f.msg, nil
}

func (f *senderMessages) GetByServiceID(ctx context.Context, service model.ServiceType, serviceID string) (*model.Message, error) {
	return nil, nil
}

func (f *senderMessages) MarkSending(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	f.claimed = true
	return true, nil
}

func (f *senderMessages) MarkSent(ctx context.Context, id, serviceID string) error { return nil }

func (f *senderMessages) MarkError(ctx context.Context, id, errorCode string) error {
	f.errored = true
	return nil
}

func (f *senderMessages) ApplyReportStatus(ctx context.Context, service model.ServiceType, serviceID string, status model.SendStatus, errorCode string) (int64, error) {
	return 0, nil
}

func (f *senderMessages) IncrementAttempts(ctx context.Context, service model.ServiceType, serviceID string) (int, error) {
	return 0, nil
}

func (f *senderMessages) BackfillCounts(ctx context.Context, service model.ServiceType, serviceID string, segments, media int) error {
	return nil
}

func (f *senderMessages) DeliveryStats(ctx context.Context, since time.Time) ([]repository.ServiceDeliveryStats, error) {
	return nil, nil
}

type senderServices struct {
	svc *model.MessagingService
}

func (f *senderServices) GetDefault(ctx context.Context, orgID int64) (*model.MessagingService, error) {
	return f.svc, nil
}

func (f *senderServices) GetByUserNumber(ctx context.Context, userNumber string) (*model.MessagingService, error) {
	return f.svc, nil
}

type countingAdapter struct {
	sends int
}

func (a *countingAdapter) Name() model.ServiceType { return model.ServiceNoop }
func (a *countingAdapter) MaxSendAttempts() int    { return 1 }

func (a *countingAdapter) SendMessage(ctx context.Context, msg *model.Message, svc *model.MessagingService) error {
	a.sends++
	return nil
}

func (a *countingAdapter) ParseWebhook(contentType string, body []byte, form url.Values) (*provider.Webhook, error) {
	return nil, nil
}

func (a *countingAdapter) VerifySignature(r *http.Request, body []byte, svc *model.MessagingService) bool {
	return true
}

func TestSendWithoutDefaultServiceIsAConfigError(t *testing.T) {
	t.Parallel()

	adapter := &countingAdapter{}
	messages := &senderMessages{msg: &model.Message{
		ID:             "01HZW1",
		OrganizationID: 3,
		Service:        model.ServiceNoop,
		SendStatus:     model.StatusQueued,
	}}
	w := &Sender{
		Messages: messages,
		Services: &senderServices{svc: nil},
		Adapters: provider.Registry{model.ServiceNoop: adapter},
	}

	err := w.send(context.Background(), model.Envelope{MessageID: "01HZW1", OrganizationID: 3, Service: model.ServiceNoop})
	if err == nil {
		t.Fatal("want an error when the organization has no default messaging service")
	}
	if !strings.Contains(err.Error(), "no default messaging service") {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if adapter.sends != 0 {
		t.Fatal("adapter must not be called without a messaging service")
	}
	if messages.errored {
		t.Fatal("a configuration error must not settle the message row")
	}
}

func TestSendDispatchesThroughAdapter(t *testing.T) {
	t.Parallel()

	adapter := &countingAdapter{}
	messages := &senderMessages{msg: &model.Message{
		ID:             "01HZW2",
		OrganizationID: 3,
		Service:        model.ServiceNoop,
		SendStatus:     model.StatusQueued,
	}}
	w := &Sender{
		Messages: messages,
		Services: &senderServices{svc: &model.MessagingService{ID: 1, ServiceType: model.ServiceNoop}},
		Adapters: provider.Registry{model.ServiceNoop: adapter},
	}

	if err := w.send(context.Background(), model.Envelope{MessageID: "01HZW2", OrganizationID: 3, Service: model.ServiceNoop}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !messages.claimed {
		t.Fatal("message must be claimed before the carrier call")
	}
	if adapter.sends != 1 {
		t.Fatalf("adapter sends = %d, want 1", adapter.sends)
	}
}
