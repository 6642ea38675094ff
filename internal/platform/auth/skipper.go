package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Token issuance lives under the
// versioned API group; everything else under /api/v1 needs a principal.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/metrics":           true,
	"/api/v1/auth/token": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. It matches the registered route, not the raw URL, so
// /health/extra stays protected.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
