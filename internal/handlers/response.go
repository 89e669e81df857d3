package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tortodelova/backend/internal/pkg/errors"
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
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps the service-layer sentinels onto HTTP statuses so
// every handler reports the same error the same way.
func RespondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		RespondError(c, http.StatusBadRequest, "validation_error", err)
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		RespondError(c, http.StatusUnauthorized, "invalid_credentials", err)
	case errors.Is(err, apperrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperrors.ErrInsufficientCredits):
		RespondError(c, http.StatusPaymentRequired, "insufficient_credits", err)
	case errors.Is(err, apperrors.ErrNotClaimable):
		RespondError(c, http.StatusConflict, "not_claimable", err)
	case errors.Is(err, apperrors.ErrModelNotConfigured):
		RespondError(c, http.StatusServiceUnavailable, "model_not_configured", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
