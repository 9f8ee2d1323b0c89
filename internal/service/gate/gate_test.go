package gate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/repository"
)

type fakeConversations struct {
	conv *model.Conversation
}

func (f *fakeConversations) Get(ctx context.Context, id int64) (*model.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConversations) UpdateMessageStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.ContactStatus) error {
	return nil
}

func (f *fakeConversations) FindByNumbers(ctx context.Context, userNumber, contactNumber string) (*repository.InboundMatch, error) {
	return nil, nil
}

type fakeAssignments struct {
	assignment *model.Assignment
	supervisor bool
}

func (f *fakeAssignments) GetForContact(ctx context.Context, id int64) (*model.Assignment, error) {
	return f.assignment, nil
}

func (f *fakeAssignments) Create(ctx context.Context, tx *sqlx.Tx, userID, campaignContactID int64) (int64, error) {
	return 42, nil
}

func (f *fakeAssignments) HasSupervisorRole(ctx context.Context, userID, orgID int64) (bool, error) {
	return f.supervisor, nil
}

type fakeOptOuts struct {
	optedOut bool
	calls    int
}

func (f *fakeOptOuts) IsOptedOut(ctx context.Context, cell string, orgID int64, globalScope bool) (bool, error) {
	f.calls++
	return f.optedOut, nil
}

type fakeUsage struct {
	used int64
}

func (f *fakeUsage) Current(ctx context.Context, orgID int64, at time.Time) (int64, error) {
	return f.used, nil
}

func openConversation() *model.Conversation {
	return &model.Conversation{
		CampaignContactID: 7,
		OrganizationID:    1,
		CampaignID:        3,
		ContactNumber:     "+15555550100",
		OrgTimezone:       "America/New_York",
		MessageStatus:     model.ContactNeedsMessage,
		EnforceHours:      true,
		TextingHoursStart: 9,
		TextingHoursEnd:   21,
	}
}

func newTestGate(conv *model.Conversation, opts ...func(*Service)) (*Service, *fakeOptOuts) {
	optOuts := &fakeOptOuts{}
	svc := New(
		nil,
		&fakeConversations{conv: conv},
		&fakeAssignments{},
		optOuts,
		nil,
		nil,
		&fakeUsage{},
		nil,
		nil,
		Config{MaxTextLength: 1600},
	)
	for _, o := range opts {
		o(svc)
	}
	return svc, optOuts
}

// 2026-01-15 15:00 UTC is 10:00 in New York: inside a 9-21 window.
var tenAMEastern = time.Date(2026, time.January, 15, 15, 0, 0, 0, time.UTC)

// 2026-01-15 03:00 UTC is 22:00 in New York the previous evening.
var tenPMEastern = time.Date(2026, time.January, 15, 3, 0, 0, 0, time.UTC)

func at(ts time.Time) func(*Service) {
	return func(s *Service) { s.now = func() time.Time { return ts } }
}

func TestCheck_RejectsOutsideTextingHours(t *testing.T) {
	t.Parallel()

	svc, _ := newTestGate(openConversation(), at(tenPMEastern))

	_, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"})
	if !errors.Is(err, ErrOutsideHours) {
		t.Fatalf("expected ErrOutsideHours, got %v", err)
	}
}

func TestCheck_AllowsInsideTextingHours(t *testing.T) {
	t.Parallel()

	svc, _ := newTestGate(openConversation(), at(tenAMEastern))

	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestCheck_TextingHoursEndIsExclusive(t *testing.T) {
	t.Parallel()

	// 21:00 sharp in New York: the window is [9, 21), so this is rejected.
	nine := time.Date(2026, time.January, 16, 2, 0, 0, 0, time.UTC)
	svc, _ := newTestGate(openConversation(), at(nine))

	_, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"})
	if !errors.Is(err, ErrOutsideHours) {
		t.Fatalf("expected ErrOutsideHours at the end boundary, got %v", err)
	}
}

func TestCheck_ContactTimezoneOverridesOrganization(t *testing.T) {
	t.Parallel()

	conv := openConversation()
	conv.ContactTimezone = sql.NullString{String: "America/Los_Angeles", Valid: true}

	// 22:00 in New York is 19:00 in Los Angeles: allowed for this contact.
	svc, _ := newTestGate(conv, at(tenPMEastern))

	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); err != nil {
		t.Fatalf("expected pass in contact timezone, got %v", err)
	}
}

func TestCheck_RejectsOptedOutRecipient(t *testing.T) {
	t.Parallel()

	svc, optOuts := newTestGate(openConversation(), at(tenAMEastern))
	optOuts.optedOut = true

	_, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"})
	if !errors.Is(err, ErrOptedOut) {
		t.Fatalf("expected ErrOptedOut, got %v", err)
	}
}

func TestCheck_SkipOptOutFlagBypassesLookup(t *testing.T) {
	t.Parallel()

	svc, optOuts := newTestGate(openConversation(), at(tenAMEastern))
	optOuts.optedOut = true

	req := Request{CampaignContactID: 7, UserID: 1, Text: "hi", SkipOptOutCheck: true}
	if _, err := svc.Check(context.Background(), req); err != nil {
		t.Fatalf("expected pass with skip flag, got %v", err)
	}
	if optOuts.calls != 0 {
		t.Fatalf("opt-out lookup should not run with skip flag, got %d calls", optOuts.calls)
	}
}

func TestCheck_MonthlyLimitBlocksInitialOutreach(t *testing.T) {
	t.Parallel()

	conv := openConversation()
	conv.MonthlyLimit = sql.NullInt64{Int64: 100, Valid: true}

	svc, _ := newTestGate(conv, at(tenAMEastern), func(s *Service) {
		s.usage = &fakeUsage{used: 100}
	})

	_, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"})
	if !errors.Is(err, ErrOverLimit) {
		t.Fatalf("expected ErrOverLimit, got %v", err)
	}
}

func TestCheck_MonthlyLimitAllowsUnderCap(t *testing.T) {
	t.Parallel()

	conv := openConversation()
	conv.MonthlyLimit = sql.NullInt64{Int64: 100, Valid: true}

	svc, _ := newTestGate(conv, at(tenAMEastern), func(s *Service) {
		s.usage = &fakeUsage{used: 99}
	})

	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); err != nil {
		t.Fatalf("expected pass under cap, got %v", err)
	}
}

func TestCheck_MonthlyLimitSparesOpenConversations(t *testing.T) {
	t.Parallel()

	conv := openConversation()
	conv.MonthlyLimit = sql.NullInt64{Int64: 100, Valid: true}
	conv.MessageStatus = model.ContactConvo

	svc, _ := newTestGate(conv, at(tenAMEastern), func(s *Service) {
		s.usage = &fakeUsage{used: 250}
	})

	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); err != nil {
		t.Fatalf("replies inside a conversation must pass the cap, got %v", err)
	}
}

func TestCheck_RejectsForeignAssignmentWithoutRole(t *testing.T) {
	t.Parallel()

	svc, _ := newTestGate(openConversation(), at(tenAMEastern), func(s *Service) {
		s.assignments = &fakeAssignments{assignment: &model.Assignment{ID: 9, UserID: 2, CampaignContactID: 7}}
	})

	_, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestCheck_SupervisorMaySendOnForeignAssignment(t *testing.T) {
	t.Parallel()

	svc, _ := newTestGate(openConversation(), at(tenAMEastern), func(s *Service) {
		s.assignments = &fakeAssignments{
			assignment: &model.Assignment{ID: 9, UserID: 2, CampaignContactID: 7},
			supervisor: true,
		}
	})

	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); err != nil {
		t.Fatalf("expected supervisor to pass, got %v", err)
	}
}

func TestCheck_ClosedAndArchivedConversations(t *testing.T) {
	t.Parallel()

	closed := openConversation()
	closed.MessageStatus = model.ContactClosed
	svc, _ := newTestGate(closed, at(tenAMEastern))
	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}

	archived := openConversation()
	archived.CampaignArchived = true
	svc, _ = newTestGate(archived, at(tenAMEastern))
	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); !errors.Is(err, ErrCampaignArchived) {
		t.Fatalf("expected ErrCampaignArchived, got %v", err)
	}

	svc, _ = newTestGate(nil, at(tenAMEastern))
	if _, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "hi"}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestCheck_RejectsOverlongText(t *testing.T) {
	t.Parallel()

	svc, _ := newTestGate(openConversation(), at(tenAMEastern), func(s *Service) {
		s.cfg.MaxTextLength = 10
	})

	_, err := svc.Check(context.Background(), Request{CampaignContactID: 7, UserID: 1, Text: "this is far too long"})
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}
