package gate

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/util"
)

// UsageReader reports how many outbound messages an organization has sent in
// the month containing at.
type UsageReader interface {
	Current(ctx context.Context, orgID int64, at time.Time) (int64, error)
}

// TextRewriter substitutes short-link domains in outbound text. The rotator
// implements it; the gate only needs the rewrite.
type TextRewriter interface {
	Substitute(ctx context.Context, orgID int64, text string) (string, error)
}

// Dispatcher is the slice of dispatcher.Dispatcher the gate drives.
type Dispatcher interface {
	Enlist(ctx context.Context, tx *sqlx.Tx, msg model.Message) error
	Flush(ctx context.Context, msg model.Message) error
}

// Request is one attempted outbound send.
type Request struct {
	CampaignContactID int64
	UserID            int64
	Text              string

	// SkipOptOutCheck is set only by the opt-out confirmation flow, which
	// must be able to acknowledge the opt-out it just recorded.
	SkipOptOutCheck bool
}

// Config carries the policy knobs the gate enforces.
type Config struct {
	MaxTextLength int
	OptOutGlobal  bool
	SendWindow    time.Duration
}

// Service is the single entry point for outbound sends. Every message row in
// the system that is not inbound was created here, after the full compliance
// sequence passed.
type Service struct {
	db            *sqlx.DB
	conversations repository.ConversationsRepository
	assignments   repository.AssignmentsRepository
	optOuts       repository.OptOutsRepository
	services      repository.ServicesRepository
	messages      repository.MessagesRepository
	usage         UsageReader
	rewriter      TextRewriter
	dispatcher    Dispatcher
	cfg           Config

	now func() time.Time
}

func New(
	db *sqlx.DB,
	conversations repository.ConversationsRepository,
	assignments repository.AssignmentsRepository,
	optOuts repository.OptOutsRepository,
	services repository.ServicesRepository,
	messages repository.MessagesRepository,
	usage UsageReader,
	rewriter TextRewriter,
	dispatcher Dispatcher,
	cfg Config,
) *Service {
	return &Service{
		db:            db,
		conversations: conversations,
		assignments:   assignments,
		optOuts:       optOuts,
		services:      services,
		messages:      messages,
		usage:         usage,
		rewriter:      rewriter,
		dispatcher:    dispatcher,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Send runs the compliance sequence for req and, if every check passes,
// creates the queued message and hands it to the dispatcher. On rejection it
// returns one of the Err* sentinels and no row is written.
func (s *Service) Send(ctx context.Context, req Request) (string, error) {
	conv, err := s.Check(ctx, req)
	if err != nil {
		if reason := RejectionReason(err); reason != "" {
			metrics.RejectionsTotal.WithLabelValues(reason).Inc()
		}
		return "", err
	}

	text := req.Text
	if s.rewriter != nil {
		// Substitution fails open inside the rotator, so err here means a
		// programming fault rather than a rotation miss.
		text, err = s.rewriter.Substitute(ctx, conv.OrganizationID, text)
		if err != nil {
			return "", fmt.Errorf("rewrite links: %w", err)
		}
	}

	svc, err := s.services.GetDefault(ctx, conv.OrganizationID)
	if err != nil {
		return "", fmt.Errorf("resolve messaging service: %w", err)
	}
	if svc == nil {
		return "", fmt.Errorf("organization %d has no default messaging service", conv.OrganizationID)
	}

	now := s.now().UTC()
	msg := model.Message{
		ID:                util.NewID(),
		OrganizationID:    conv.OrganizationID,
		ContactNumber:     conv.ContactNumber,
		UserNumber:        svc.UserNumber,
		Text:              text,
		SendStatus:        model.StatusQueued,
		Service:           svc.ServiceType,
		CampaignContactID: sql.NullInt64{Int64: conv.CampaignContactID, Valid: true},
		QueuedAt:          now,
	}
	if s.cfg.SendWindow > 0 {
		msg.SendBefore = sql.NullTime{Time: now.Add(s.cfg.SendWindow), Valid: true}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin send tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	assignment, err := s.assignments.GetForContact(ctx, req.CampaignContactID)
	if err != nil {
		return "", fmt.Errorf("load assignment: %w", err)
	}
	assignmentID := int64(0)
	if assignment != nil {
		assignmentID = assignment.ID
	} else {
		// Unassigned conversation: the actor picks it up as part of the
		// send, in the same transaction as the message.
		assignmentID, err = s.assignments.Create(ctx, tx, req.UserID, req.CampaignContactID)
		if err != nil {
			return "", fmt.Errorf("create assignment: %w", err)
		}
	}
	msg.AssignmentID = sql.NullInt64{Int64: assignmentID, Valid: true}

	if err := s.messages.InsertQueued(ctx, tx, msg); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	next := model.ContactMessaged
	if conv.MessageStatus == model.ContactNeedsResponse {
		next = model.ContactConvo
	}
	if err := s.conversations.UpdateMessageStatus(ctx, tx, conv.CampaignContactID, next); err != nil {
		return "", fmt.Errorf("update contact status: %w", err)
	}

	if err := s.dispatcher.Enlist(ctx, tx, msg); err != nil {
		return "", fmt.Errorf("enlist dispatch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit send tx: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues("queued", msg.Service.String()).Inc()

	if err := s.dispatcher.Flush(ctx, msg); err != nil {
		// The row is committed; the sweeper/worker path will still drive
		// it. Surface the error so callers see sync-mode carrier faults.
		logger.Log.Error("post-commit dispatch failed",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return msg.ID, fmt.Errorf("dispatch message: %w", err)
	}
	return msg.ID, nil
}

// Check runs every compliance check for req without writing anything. Send
// calls it first; the API layer also uses it for dry-run validation.
func (s *Service) Check(ctx context.Context, req Request) (*model.Conversation, error) {
	conv, err := s.conversations.Get(ctx, req.CampaignContactID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if conv.CampaignArchived {
		return nil, ErrCampaignArchived
	}
	if conv.MessageStatus == model.ContactClosed {
		return nil, ErrConversationClosed
	}

	if err := s.checkMonthlyLimit(ctx, conv); err != nil {
		return nil, err
	}
	if err := s.checkAuthorization(ctx, conv, req.UserID); err != nil {
		return nil, err
	}

	if !req.SkipOptOutCheck {
		optedOut, err := s.optOuts.IsOptedOut(ctx, conv.ContactNumber, conv.OrganizationID, s.cfg.OptOutGlobal)
		if err != nil {
			return nil, fmt.Errorf("check opt-out: %w", err)
		}
		if optedOut {
			return nil, ErrOptedOut
		}
	}

	if err := s.checkTextingHours(conv); err != nil {
		return nil, err
	}

	if s.cfg.MaxTextLength > 0 && utf8.RuneCountInString(req.Text) > s.cfg.MaxTextLength {
		return nil, ErrTooLong
	}
	return conv, nil
}

// checkMonthlyLimit blocks initial outreach once the organization's monthly
// volume cap is hit. Replies inside an existing conversation always go
// through: cutting a texter off mid-exchange is worse than a small overage.
func (s *Service) checkMonthlyLimit(ctx context.Context, conv *model.Conversation) error {
	if !conv.MonthlyLimit.Valid || conv.MessageStatus != model.ContactNeedsMessage {
		return nil
	}
	used, err := s.usage.Current(ctx, conv.OrganizationID, s.now())
	if err != nil {
		return fmt.Errorf("read monthly usage: %w", err)
	}
	if used >= conv.MonthlyLimit.Int64 {
		return ErrOverLimit
	}
	return nil
}

func (s *Service) checkAuthorization(ctx context.Context, conv *model.Conversation, userID int64) error {
	assignment, err := s.assignments.GetForContact(ctx, conv.CampaignContactID)
	if err != nil {
		return fmt.Errorf("load assignment: %w", err)
	}
	if assignment == nil || assignment.UserID == userID {
		return nil
	}
	supervisor, err := s.assignments.HasSupervisorRole(ctx, userID, conv.OrganizationID)
	if err != nil {
		return fmt.Errorf("check role: %w", err)
	}
	if !supervisor {
		return ErrNotAuthorized
	}
	return nil
}

// checkTextingHours enforces the campaign's permitted window in the
// recipient's local time. The window is [start, end): a 9-21 campaign allows
// 09:00:00 through 20:59:59.
func (s *Service) checkTextingHours(conv *model.Conversation) error {
	if !conv.EnforceHours {
		return nil
	}
	loc, err := time.LoadLocation(conv.Timezone())
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", conv.Timezone(), err)
	}
	hour := s.now().In(loc).Hour()
	if hour < conv.TextingHoursStart || hour >= conv.TextingHoursEnd {
		return ErrOutsideHours
	}
	return nil
}
