package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/service/gate"
)

type sendReq struct {
	CampaignContactID int64  `json:"campaign_contact_id"`
	Text              string `json:"text"`

	// Set only by the opt-out confirmation flow.
	SkipOptOutCheck bool `json:"skip_opt_out_check"`
}

// sendHandler accepts a send from the trusted frontend. The acting user is
// carried in X-User-ID; authentication happened upstream.
func sendHandler(gateSvc *gate.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Text = strings.TrimSpace(req.Text)
		if req.CampaignContactID <= 0 || req.Text == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		userID, err := strconv.ParseInt(c.Request().Header.Get("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing user identity"})
		}

		id, err := gateSvc.Send(c.Request().Context(), gate.Request{
			CampaignContactID: req.CampaignContactID,
			UserID:            userID,
			Text:              req.Text,
			SkipOptOutCheck:   req.SkipOptOutCheck,
		})
		if err != nil {
			if reason := gate.RejectionReason(err); reason != "" {
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{
					"error":  "send rejected",
					"reason": reason,
				})
			}

			logger.Log.Error("send failed",
				zap.Int64("campaign_contact_id", req.CampaignContactID),
				zap.Error(err))

			// A non-empty id means the row committed and only dispatch
			// failed; the caller should not retry the send.
			if id != "" {
				return c.JSON(http.StatusAccepted, map[string]any{"queued": true, "id": id})
			}
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{"queued": true, "id": id})
	}
}
