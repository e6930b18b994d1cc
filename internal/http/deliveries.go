package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/webhook-gateway/internal/repository"
)

func pagination(c echo.Context, maxLimit int) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func listSubscriptionDeliveriesHandler(repo repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || subID <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid subscription id"})
		}

		limit, offset := pagination(c, 500)

		attempts, err := repo.ListBySubscription(c.Request().Context(), subID, limit, offset)
		if err != nil {
			c.Logger().Errorf("list deliveries failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"subscription_id": subID,
			"limit":           limit,
			"offset":          offset,
			"count":           len(attempts),
			"results":         attempts,
		})
	}
}
