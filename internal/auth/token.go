package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenHeader carries the bridge API token.
const TokenHeader = "X-API-Token"

// TokenFromRequest returns the token from the X-API-Token header or an
// Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ValidToken compares provided against token in constant time. An empty
// token disables authentication.
func ValidToken(token, provided string) bool {
	if token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1
}

// TokenMiddleware rejects requests without the configured bridge token.
// If the configured token is empty, authentication is disabled (development mode).
func TokenMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}

			provided := TokenFromRequest(c.Request())
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing API token",
				})
			}

			if !ValidToken(token, provided) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Invalid API token",
				})
			}

			return next(c)
		}
	}
}
