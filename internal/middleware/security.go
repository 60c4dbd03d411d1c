package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders describe a single connection and are never part of the
// header map handed to the orchestration service.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HeaderHygiene returns an Echo middleware that strips hop-by-hop headers from
// the inbound request before handlers collect them, and marks responses as
// non-cacheable documents.
func HeaderHygiene() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Response headers must be set before the handler writes.
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
