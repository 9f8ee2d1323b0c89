package http

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/dispatcher"
	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/provider"
	"github.com/groundgame/textrelay/internal/reconcile"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/groundgame/textrelay/internal/util"
)

// webhookHandler receives carrier pushes. Both the /message and /status
// routes land here: providers do not always keep the two payload shapes on
// separate URLs, so classification is left to the adapter.
type webhookHandler struct {
	adapters   provider.Registry
	services   repository.ServicesRepository
	messages   repository.MessagesRepository
	parts      repository.PartsRepository
	audit      repository.AuditRepository
	reconciler *reconcile.Reconciler
	dispatcher dispatcher.Dispatcher
	skipVerify bool
}

func (h *webhookHandler) handle(c echo.Context) error {
	service, ok := model.ParseServiceType(c.Param("provider"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown provider"})
	}
	adapter, err := h.adapters.For(service)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown provider"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	var form url.Values
	if strings.Contains(contentType, echo.MIMEApplicationForm) {
		if form, err = url.ParseQuery(string(body)); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad form body"})
		}
	}

	wh, err := adapter.ParseWebhook(contentType, body, form)
	if err != nil {
		logger.Log.Warn("webhook parse failed",
			zap.String("service", service.String()),
			zap.Error(err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unparseable payload"})
	}

	if !h.skipVerify {
		// Verification only needs read lookups; nothing has been written yet,
		// so a forged request leaves no trace beyond this 403.
		svc := h.lookupService(c, service, wh)
		if !adapter.VerifySignature(c.Request(), body, svc) {
			logger.Log.Warn("webhook signature rejected",
				zap.String("service", service.String()))
			return c.JSON(http.StatusForbidden, map[string]string{"error": "signature verification failed"})
		}
	}

	if err := h.stageParts(c, service, wh.Parts); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage failure"})
	}

	for _, report := range wh.Reports {
		if err := h.reconciler.Process(c.Request().Context(), report); err != nil {
			// A 5xx makes the carrier redeliver; reconciliation is
			// idempotent so the retry is safe.
			logger.Log.Error("delivery report processing failed",
				zap.String("service", service.String()),
				zap.String("service_id", report.ServiceID),
				zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		}
	}

	return c.String(http.StatusOK, "ok")
}

// stageParts persists inbound parts and kicks reassembly once per group. The
// carrier gets its 200 only after every part is durably staged.
func (h *webhookHandler) stageParts(c echo.Context, service model.ServiceType, parts []model.PendingMessagePart) error {
	ctx := c.Request().Context()
	groups := make(map[string]struct{})
	for _, p := range parts {
		if err := h.parts.Insert(ctx, p); err != nil {
			logger.Log.Error("staging inbound part failed",
				zap.String("service", service.String()),
				zap.String("service_id", p.ServiceID),
				zap.Error(err))
			return err
		}
		ev := repository.AuditEvent{
			ID:        util.NewID(),
			Service:   service.String(),
			Kind:      "inbound",
			ServiceID: p.ServiceID,
			Payload:   string(p.ServiceMessage),
		}
		if err := h.audit.Insert(ctx, ev); err != nil {
			logger.Log.Error("auditing inbound part failed", zap.Error(err))
			return err
		}
		groups[p.ParentID] = struct{}{}
	}
	for parentID := range groups {
		if err := h.dispatcher.DispatchInbound(ctx, service, parentID); err != nil {
			logger.Log.Error("inbound dispatch failed",
				zap.String("service", service.String()),
				zap.String("parent_id", parentID),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// lookupService finds the messaging service whose credentials sign this
// webhook: by receiving number for inbound, by the reported message's sending
// number for status callbacks. Adapters treat a nil result as unverifiable.
func (h *webhookHandler) lookupService(c echo.Context, service model.ServiceType, wh *provider.Webhook) *model.MessagingService {
	ctx := c.Request().Context()
	if len(wh.Parts) > 0 {
		svc, err := h.services.GetByUserNumber(ctx, wh.Parts[0].UserNumber)
		if err != nil {
			logger.Log.Warn("service lookup by number failed", zap.Error(err))
			return nil
		}
		return svc
	}
	if len(wh.Reports) > 0 {
		msg, err := h.messages.GetByServiceID(ctx, service, wh.Reports[0].ServiceID)
		if err != nil || msg == nil {
			return nil
		}
		svc, err := h.services.GetByUserNumber(ctx, msg.UserNumber)
		if err != nil {
			return nil
		}
		return svc
	}
	return nil
}
