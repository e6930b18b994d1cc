package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const ctxClientKey = "api_client"

// ClientFromCtx returns the identity set by APIKeyMiddleware.
func ClientFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxClientKey).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates admin requests using the X-API-Key header
// against the configured keys. The stored identity is a hash prefix of the key,
// safe to use in rate-limit keys and logs.
func APIKeyMiddleware(keys []string) echo.MiddlewareFunc {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}

			match := 0
			for _, a := range allowed {
				match |= subtle.ConstantTimeCompare(a, []byte(key))
			}
			if match != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}

			c.Set(ctxClientKey, clientID(key))
			return next(c)
		}
	}
}

func clientID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
