// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
)

// Transport-level error codes. Domain failures carry the reason code of
// their AppError instead.
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	ErrorLLMConfigInvalid = "LLM_CONFIG_INVALID"
	ErrorConfigNotLoaded  = "CONFIG_NOT_LOADED"
)

// statusFor maps an error class to its HTTP status.
func statusFor(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypePrecondition:
		return http.StatusConflict
	case apperrors.ErrorTypeInvariant:
		return http.StatusLocked
	case apperrors.ErrorTypeUpstreamUnavailable:
		return http.StatusBadGateway
	case apperrors.ErrorTypePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
