package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeffstoner/ganymede/internal/db"
	"github.com/jeffstoner/ganymede/internal/fleet"
	"github.com/jeffstoner/ganymede/internal/reporting"
	"github.com/jeffstoner/ganymede/internal/txlog"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// classify maps a domain error to an HTTP status and error code
func classify(err error) (int, string) {
	var ve *txlog.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_" + ve.Field
	case errors.Is(err, reporting.ErrInvalidUpload):
		return http.StatusBadRequest, "invalid_dump"
	case errors.Is(err, reporting.ErrInvalidSchemaAction):
		return http.StatusBadRequest, "invalid_action"
	case errors.Is(err, fleet.ErrAgentNotFound), errors.Is(err, reporting.ErrAgentNotFound):
		return http.StatusNotFound, "agent_not_found"
	case errors.Is(err, fleet.ErrGeoNotFound):
		return http.StatusNotFound, "geo_not_found"
	case errors.Is(err, fleet.ErrReleaseNotFound):
		return http.StatusNotFound, "release_not_found"
	case errors.Is(err, reporting.ErrUnknownTransaction):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, reporting.ErrUploadNotFound):
		return http.StatusNotFound, "upload_not_found"
	case errors.Is(err, reporting.ErrTransactionClosed):
		return http.StatusConflict, "transaction_closed"
	case errors.Is(err, reporting.ErrNotSuccessful):
		return http.StatusConflict, "transaction_not_successful"
	case errors.Is(err, reporting.ErrWorkerNotStarted):
		return http.StatusConflict, "worker_not_started"
	case errors.Is(err, db.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondDomainError writes the error envelope for err, logging anything
// that is not the caller's fault
func respondDomainError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	RespondError(c, status, code, err)
}
