package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "bizgraph/backend/pkg/errors"
)

// statusFor maps an error category to its HTTP status.
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeAlreadyUndone, apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeTransientStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody carries the category and the structured fields a caller needs to choose
// between fixing the request, retrying, and escalating.
func errorBody(err error) gin.H {
	body := gin.H{
		"error":     err.Error(),
		"type":      string(apperrors.TypeOf(err)),
		"retryable": apperrors.IsRetryable(err),
	}
	if body["type"] == "" {
		body["type"] = "internal"
	}

	var (
		invalid      *apperrors.ErrInvalidArgument
		notFound     *apperrors.ErrNotFound
		undone       *apperrors.ErrAlreadyUndone
		conflict     *apperrors.ErrConflict
		transient    *apperrors.ErrTransientStore
		inconsistent *apperrors.ErrInconsistentState
	)
	switch {
	case errors.As(err, &invalid):
		body["field"] = invalid.Field
		body["reason"] = invalid.Reason
	case errors.As(err, &notFound):
		body["resource"] = notFound.Resource
		body["id"] = notFound.ID
		if notFound.Label != "" {
			body["label"] = notFound.Label
		}
	case errors.As(err, &undone):
		body["ledger_id"] = undone.LedgerID
		body["undone_at"] = undone.UndoneAt
		body["undone_by"] = undone.UndoneBy
	case errors.As(err, &conflict):
		body["id"] = conflict.ID
		body["label"] = conflict.Label
	case errors.As(err, &inconsistent):
		body["operation"] = inconsistent.Operation
		if inconsistent.LedgerID != "" {
			body["ledger_id"] = inconsistent.LedgerID
		}
	case errors.As(err, &transient):
		body["store"] = transient.Store
		body["outcome_unknown"] = transient.OutcomeUnknown
	}
	return body
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, errorBody(err))
}

func bindError(err error) error {
	return apperrors.NewInvalidArgument("body", "", err.Error())
}
