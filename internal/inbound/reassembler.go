package inbound

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// errIncomplete means the concatenation group is still missing parts.
var errIncomplete = errors.New("message part group incomplete")

// Reassembler turns staged PendingMessagePart groups into logical inbound
// messages.
type Reassembler struct {
	db            *sqlx.DB
	parts         repository.PartsRepository
	messages      repository.MessagesRepository
	conversations repository.ConversationsRepository
	audit         repository.AuditRepository
}

func New(
	db *sqlx.DB,
	parts repository.PartsRepository,
	messages repository.MessagesRepository,
	conversations repository.ConversationsRepository,
	audit repository.AuditRepository,
) *Reassembler {
	return &Reassembler{
		db:            db,
		parts:         parts,
		messages:      messages,
		conversations: conversations,
		audit:         audit,
	}
}

// Process attempts to reassemble one part group. A group still missing parts
// is left alone (the next part's arrival retries it). Unsolicited groups are
// audit-logged and retained for support; everything else becomes exactly one
// inbound Message, with the contact flipped to needsResponse and the parts
// deleted in the same transaction.
func (r *Reassembler) Process(ctx context.Context, service model.ServiceType, parentID string) error {
	parts, err := r.parts.ListGroup(ctx, service, parentID)
	if err != nil {
		return fmt.Errorf("list part group: %w", err)
	}
	if len(parts) == 0 {
		return nil
	}

	body, numMedia, err := Convert(parts)
	if errors.Is(err, errIncomplete) {
		metrics.InboundTotal.WithLabelValues(service.String(), "pending").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	first := parts[0]
	match, err := r.conversations.FindByNumbers(ctx, first.UserNumber, first.ContactNumber)
	if err != nil {
		return fmt.Errorf("match conversation: %w", err)
	}
	if match == nil {
		r.recordUnsolicited(ctx, first)
		metrics.InboundTotal.WithLabelValues(service.String(), "unsolicited").Inc()
		return nil
	}

	msg := model.Message{
		ID:                util.NewID(),
		OrganizationID:    match.OrganizationID,
		IsFromContact:     true,
		ContactNumber:     first.ContactNumber,
		UserNumber:        first.UserNumber,
		Text:              body,
		Service:           service,
		ServiceID:         sql.NullString{String: parentID, Valid: true},
		AssignmentID:      match.AssignmentID,
		CampaignContactID: sql.NullInt64{Int64: match.CampaignContactID, Valid: true},
		NumMedia:          sql.NullInt64{Int64: int64(numMedia), Valid: numMedia > 0},
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.messages.InsertInbound(ctx, tx, msg); err != nil {
		return fmt.Errorf("insert inbound message: %w", err)
	}
	if err := r.conversations.UpdateMessageStatus(ctx, tx, match.CampaignContactID, model.ContactNeedsResponse); err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	if err := r.parts.DeleteGroup(ctx, tx, service, parentID); err != nil {
		return fmt.Errorf("delete part group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.InboundTotal.WithLabelValues(service.String(), "assembled").Inc()
	return nil
}

func (r *Reassembler) recordUnsolicited(ctx context.Context, p model.PendingMessagePart) {
	logger.Log.Info("unsolicited inbound message",
		zap.String("service", p.Service.String()),
		zap.String("service_id", p.ServiceID),
		zap.String("from", p.ContactNumber))

	if r.audit == nil {
		return
	}
	ev := repository.AuditEvent{
		ID:        util.NewID(),
		Service:   p.Service.String(),
		Kind:      "unsolicited",
		ServiceID: p.ServiceID,
		Payload:   string(p.ServiceMessage),
	}
	if err := r.audit.Insert(ctx, ev); err != nil {
		logger.Log.Warn("unsolicited audit insert failed", zap.Error(err))
	}
}

// Convert assembles a part group into the final message body: parts sorted by
// declared index, bodies joined, embedded NUL bytes stripped. Media is not
// stored; its presence becomes a human-readable note with the count kept as
// metadata. The result is identical for any arrival order of the same parts.
func Convert(parts []model.PendingMessagePart) (string, int, error) {
	if len(parts) == 0 {
		return "", 0, errIncomplete
	}

	total := 1
	for _, p := range parts {
		if p.PartTotal > total {
			total = p.PartTotal
		}
	}
	if len(parts) < total {
		return "", 0, errIncomplete
	}

	sorted := make([]model.PendingMessagePart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartIndex < sorted[j].PartIndex })

	var sb strings.Builder
	numMedia := 0
	for _, p := range sorted {
		sb.WriteString(strings.ReplaceAll(p.Body, "\x00", ""))
		numMedia += p.NumMedia
	}

	body := sb.String()
	if numMedia > 0 {
		note := fmt.Sprintf("\n[NOTE: %d media attachment(s) were received but not transferred]", numMedia)
		body += note
	}

	return body, numMedia, nil
}
