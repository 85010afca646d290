package respond

import (
	"errors"
	"net/http"

	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error writes the JSON error body for err. Domain errors keep their message;
// anything else is logged and reported as a generic failure under code.
func Error(c *gin.Context, log *zap.Logger, code string, err error) {
	status, errCode := http.StatusInternalServerError, code
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		status, errCode = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, models.ErrInvalidInput):
		status, errCode = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrNotFound):
		status, errCode = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrForbidden):
		status, errCode = http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrConflict):
		status, errCode = http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrVotingClosed):
		status, errCode = http.StatusConflict, "voting_closed"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		message = "Something went wrong, please try again"
	}

	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}
