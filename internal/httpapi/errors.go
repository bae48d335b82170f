package httpapi

import (
	"errors"
	"net/http"

	"invoice-engine/internal/invoice"
	"invoice-engine/internal/reporting"
	"invoice-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

const msgInternal = "Ocurrió un error inesperado. Intente nuevamente."

// statusOf maps lifecycle rejections to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, invoice.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, invoice.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, invoice.ErrDefinitiveState),
		errors.Is(err, invoice.ErrInvalidState),
		errors.Is(err, invoice.ErrMissingAttachment):
		return http.StatusConflict
	case errors.Is(err, invoice.ErrEmptyFile),
		errors.Is(err, invoice.ErrInvalidArgument),
		errors.Is(err, invoice.ErrNoDestination),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// abortWithError writes the displayable message of err. Unexpected errors
// are logged and hidden behind a generic message.
func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": msgInternal})
		return
	}
	msg := invoice.UserMessage(err, err.Error())
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
