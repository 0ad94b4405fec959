package httpHandler

import (
	"errors"
	"net/http"

	"signage-fleet/entities"
	"signage-fleet/usecases"

	"github.com/gin-gonic/gin"
)

// StatusFor maps a use case error to an HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, usecases.ErrUnknownDevice):
		return http.StatusNotFound, "unknown_device"
	case errors.Is(err, usecases.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, usecases.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, usecases.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, usecases.ErrInvalidCommand), errors.Is(err, entities.ErrBadCommand):
		return http.StatusBadRequest, "invalid_command"
	case errors.Is(err, usecases.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, usecases.ErrTransient):
		return http.StatusServiceUnavailable, "transient"
	}
	return http.StatusInternalServerError, "internal"
}

// RespondError writes err as {"error": ..., "code": ...}.
func RespondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  code,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"code":    "invalid_argument",
		"details": err.Error(),
	})
}
