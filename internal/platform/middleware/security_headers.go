package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers expected of a JSON API serving
// medical records.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			// Nothing is rendered in a browser; bundle content is returned as JSON.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			// Storage pointers and patient ids appear in request paths.
			h.Set("Referrer-Policy", "no-referrer")
			// Decrypted bundles, consent records and audit trails must not
			// outlive the response in any cache.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
