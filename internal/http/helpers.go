// README: HTTP helper utilities for JSON, timestamps, and error mapping.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridepulse/internal/modules/tracking"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeTrackingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tracking.ErrMissingIdentifier),
		errors.Is(err, tracking.ErrOutOfRangeCoordinate),
		errors.Is(err, tracking.ErrStaleTimestamp):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracking.ErrUnknownTrip):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, tracking.ErrDuplicateTrip),
		errors.Is(err, tracking.ErrTripNotActive):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}
