package apperror

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPError converts err into the echo error returned by handlers. Internal
// errors are not echoed back to the client.
func HTTPError(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, err.Error())
}
