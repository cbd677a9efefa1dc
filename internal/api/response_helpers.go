// internal/api/response_helpers.go
package api

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the error part of the envelope.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper writes envelopes.
type ResponseHelper struct {
	logger *utils.Logger
}

func NewResponseHelper(logger *utils.Logger) *ResponseHelper {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ResponseHelper{logger: logger}
}

// Success writes 200 with data.
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, nil, message)
}

// SuccessWithWarnings writes 200 and lists non-fatal problems such as a
// failed autosave.
func (rh *ResponseHelper) SuccessWithWarnings(c *gin.Context, data interface{}, warnings []string) {
	rh.write(c, http.StatusOK, data, warnings, nil)
}

// Created writes 201 with data.
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, warnings ...string) {
	rh.write(c, http.StatusCreated, data, warnings, nil)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, warnings, message []string) {
	resp := &APIResponse{
		Success:   true,
		Data:      data,
		Warnings:  warnings,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	}
	if len(message) > 0 {
		resp.Message = message[0]
	}
	c.JSON(status, resp)
}

// sanitizeErrorMessage hides messages that may echo credentials.
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "password"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error writes a failure envelope.
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}
	rh.abort(c, statusCode, apiError)
}

// FromError maps an AppError to its status and reason code. Anything else
// is an internal error and its text is not echoed.
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	errType := apperrors.TypeOf(err)
	if errType == "" {
		rh.logger.Error("unclassified error", map[string]interface{}{
			"request_id": requestID(c),
			"path":       c.FullPath(),
			"error":      err.Error(),
		})
		rh.abort(c, http.StatusInternalServerError, &APIError{Code: ErrorInternalError, Message: "An internal error occurred"})
		return
	}

	status := statusFor(errType)
	if status >= http.StatusInternalServerError {
		rh.logger.Warn("request failed", map[string]interface{}{
			"request_id": requestID(c),
			"path":       c.FullPath(),
			"error":      err.Error(),
		})
	}
	rh.abort(c, status, &APIError{
		Type:    string(errType),
		Code:    apperrors.CodeOf(err),
		Message: sanitizeErrorMessage(err.Error()),
	})
}

func (rh *ResponseHelper) abort(c *gin.Context, status int, apiError *APIError) {
	c.AbortWithStatusJSON(status, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	})
}

// BadRequest writes 400.
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound writes 404.
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string) {
	rh.Error(c, http.StatusNotFound, ErrorNotFound, resource+" not found")
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
