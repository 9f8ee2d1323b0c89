package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/groundgame/textrelay/internal/model"
	"github.com/groundgame/textrelay/internal/repository"
)

// listAuditEventsHandler exposes the raw carrier exchange log for support
// debugging ("what did Twilio actually send us for this message").
func listAuditEventsHandler(auditRepo repository.AuditRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var service model.ServiceType
		if raw := strings.TrimSpace(c.QueryParam("service")); raw != "" {
			tmp, ok := model.ParseServiceType(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid service"})
			}
			service = tmp
		}
		kind := strings.TrimSpace(c.QueryParam("kind"))

		events, err := auditRepo.List(c.Request().Context(), service, kind, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
