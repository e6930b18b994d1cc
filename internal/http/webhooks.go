package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/webhook-gateway/internal/inbound"
	"github.com/jmehdipour/webhook-gateway/internal/model"
)

// WebhookRouter is the inbound pipeline behind POST /webhooks/:provider.
type WebhookRouter interface {
	Handle(ctx context.Context, p model.Provider, rawBody []byte, headers http.Header) (inbound.Outcome, error)
	Reject(ctx context.Context, p model.Provider, headers http.Header, reason error) (inbound.Outcome, error)
}

const warnInvalidSignature = "signature verification failed; event logged but not processed"

// receiveWebhookHandler reads at most limit body bytes. Oversized requests are
// still logged, without their body.
func receiveWebhookHandler(router WebhookRouter, limit int64) echo.HandlerFunc {
	return func(c echo.Context) error {
		provider, err := model.ParseProvider(c.Param("provider"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown provider"})
		}

		req := c.Request()
		if req.ContentLength > limit {
			return rejectTooLarge(c, router, provider)
		}

		// raw bytes: signatures are computed over the body exactly as sent
		raw, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		}
		if int64(len(raw)) > limit {
			return rejectTooLarge(c, router, provider)
		}

		out, err := router.Handle(c.Request().Context(), provider, raw, c.Request().Header)
		switch {
		case errors.Is(err, inbound.ErrMalformedPayload):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		case err != nil:
			c.Logger().Errorf("inbound webhook %s failed: %v", provider, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		resp := map[string]any{"received": true}
		if !out.SignatureValid {
			resp["warning"] = warnInvalidSignature
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func rejectTooLarge(c echo.Context, router WebhookRouter, p model.Provider) error {
	if _, err := router.Reject(c.Request().Context(), p, c.Request().Header, inbound.ErrPayloadTooLarge); err != nil {
		c.Logger().Errorf("inbound webhook %s rejected, log failed: %v", p, err)
	}
	return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
}
