package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ride-simulator/internal/trip"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// mapErrorToHTTPStatus maps trip errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, trip.ErrTripNotFound):
		return http.StatusNotFound

	case errors.Is(err, trip.ErrInvalidCoordinates),
		errors.Is(err, trip.ErrInvalidConfiguration),
		errors.Is(err, trip.ErrUnknownAction),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest

	case errors.Is(err, trip.ErrTripActive):
		return http.StatusConflict

	case errors.Is(err, trip.ErrClosed),
		errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
)
