package provider_test

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/repository"
)

// recordingMessages tracks the settle calls adapters make through the
// Recorder. Everything else is unused in these tests.
type recordingMessages struct {
	sentID    string
	errorCode string
	sentCalls int
	errCalls  int
}

func (f *recordingMessages) InsertQueued(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	return errors.New("not implemented")
}

func (f *recordingMessages) InsertInbound(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	return errors.New("not implemented")
}

func (f *recordingMessages) Get(ctx context.Context, id string) (*model.Message, error) {
	return nil, nil
}

func (f *recordingMessages) GetByServiceID(ctx context.Context, service model.ServiceType, serviceID string) (*model.Message, error) {
	return nil, nil
}

func (f *recordingMessages) MarkSending(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *recordingMessages) MarkSent(ctx context.Context, id, serviceID string) error {
	f.sentCalls++
	f.sentID = serviceID
	return nil
}

func (f *recordingMessages) MarkError(ctx context.Context, id, errorCode string) error {
	f.errCalls++
	f.errorCode = errorCode
	return nil
}

func (f *recordingMessages) ApplyReportStatus(ctx context.Context, service model.ServiceType, serviceID string, status model.SendStatus, errorCode string) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *recordingMessages) IncrementAttempts(ctx context.Context, service model.ServiceType, serviceID string) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *recordingMessages) BackfillCounts(ctx context.Context, service model.ServiceType, serviceID string, segments, media int) error {
	return nil
}

func (f *recordingMessages) DeliveryStats(ctx context.Context, since time.Time) ([]repository.ServiceDeliveryStats, error) {
	return nil, nil
}

type recordingEvents struct {
	appended int
}

func (f *recordingEvents) Append(ctx context.Context, tx *sqlx.Tx, ev model.MessageEvent) (bool, error) {
	f.appended++
	return true, nil
}

func (f *recordingEvents) ListUnmatched(ctx context.Context, limit int) ([]model.MessageEvent, error) {
	return nil, nil
}

func (f *recordingEvents) Attach(ctx context.Context, eventID int64, messageID string) error {
	return nil
}

func newRecorder() (*provider.Recorder, *recordingMessages, *recordingEvents) {
	messages := &recordingMessages{}
	events := &recordingEvents{}
	return &provider.Recorder{Messages: messages, Events: events}, messages, events
}

func outboundMessage() *model.Message {
	return &model.Message{
		ID:             "01HZXAMPLE",
		OrganizationID: 1,
		ContactNumber:  "+15555550100",
		UserNumber:     "+15555559999",
		Text:           "hello",
		SendStatus:     model.StatusSending,
		Service:        model.ServiceTwilio,
	}
}

func messagingService(t model.ServiceType) *model.MessagingService {
	return &model.MessagingService{
		ID:             1,
		OrganizationID: 1,
		ServiceType:    t,
		AccountSID:     "AC0123456789",
		AuthToken:      "secret-token",
		UserNumber:     "+15555559999",
	}
}
