package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
)

func listDeliveryReportsHandler(chRepo repository.CHDeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pagination(c, 1000)
		f := repository.DeliveryReportFilter{
			EventType: strings.TrimSpace(c.QueryParam("event_type")),
			Limit:     limit,
			Offset:    offset,
		}

		if v := c.QueryParam("subscription_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid subscription_id"})
			}
			f.SubscriptionID = id
		}

		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.DeliveryStatus(raw)
			if tmp.Valid() {
				f.Status = tmp
			}
		}

		rows, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
