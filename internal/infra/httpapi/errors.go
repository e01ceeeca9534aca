package httpapi

import (
	"errors"
	"net/http"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/entity"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	// SessionID is set when a session was created before the failure.
	SessionID string `json:"session_id,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var se *entity.ServiceError
	switch {
	case errors.Is(err, entity.ErrSessionNotFound), errors.Is(err, entity.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidDistance),
		errors.Is(err, entity.ErrEmptyDisplayRect),
		errors.Is(err, entity.ErrNoPairAwaitingInput),
		errors.Is(err, entity.ErrPairAwaitingDistance):
		return http.StatusBadRequest
	case entity.IsGuard(err),
		errors.Is(err, entity.ErrBusy),
		errors.Is(err, entity.ErrNoExportRunning),
		errors.Is(err, entity.ErrExportCanceled),
		errors.Is(err, entity.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, entity.ErrNotConfigured):
		return http.StatusNotImplemented
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorTitle(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not found"
	case http.StatusBadRequest:
		return "invalid input"
	case http.StatusConflict:
		return "not allowed now"
	case http.StatusNotImplemented:
		return "not configured"
	case http.StatusBadGateway:
		return "backend service failed"
	default:
		return "internal error"
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: errorTitle(status), Detail: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Detail: err.Error()})
}
