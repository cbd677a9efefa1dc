// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure for propagation and transport mapping.
type ErrorType string

const (
	ErrorTypeInvalidInput        ErrorType = "invalid_input"
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypePrecondition        ErrorType = "precondition_failed"
	ErrorTypeInvariant           ErrorType = "invariant_violation"
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	ErrorTypePersistence         ErrorType = "persistence_error"
)

// Reason codes. One AppError type may carry several codes.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidAction       = "INVALID_ACTION"
	CodeNotFound            = "NOT_FOUND"
	CodeUnknownSession      = "UNKNOWN_SESSION"
	CodePreconditionFailed  = "PRECONDITION_FAILED"
	CodeNotYourTurn         = "NOT_YOUR_TURN"
	CodeDeadActor           = "DEAD_ACTOR"
	CodeInvalidTarget       = "INVALID_TARGET"
	CodeUnknownChoice       = "UNKNOWN_CHOICE"
	CodeCombatOver          = "COMBAT_OVER"
	CodeCombatActive        = "COMBAT_ACTIVE"
	CodeScenarioComplete    = "SCENARIO_COMPLETE"
	CodeInvariantViolation  = "INVARIANT_VIOLATION"
	CodeUnresolvedNextNode  = "UNRESOLVED_NEXT_NODE"
	CodeSessionReadOnly     = "SESSION_READ_ONLY"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodePersistenceError    = "PERSISTENCE_ERROR"
)

// AppError is the error value every service returns.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by type and code so that errors.Is works
// against the sentinel values below.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// NewAppError builds an AppError with the default code for its type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// WithCode returns a copy carrying a more specific reason code.
func (e *AppError) WithCode(code string) *AppError {
	c := *e
	c.Code = code
	return &c
}

func NewInvalidInputError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvalidInput, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewPreconditionError(code, message string) *AppError {
	return NewAppError(ErrorTypePrecondition, message, nil).WithCode(code)
}

func NewInvariantError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvariant, message, originalError)
}

func NewUpstreamError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUpstreamUnavailable, message, originalError)
}

func NewPersistenceError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypePersistence, message, originalError)
}

// Sentinels for errors.Is comparisons in callers and tests.
var (
	ErrUnknownSession  = &AppError{Type: ErrorTypeNotFound, Code: CodeUnknownSession, Message: "unknown session"}
	ErrNotYourTurn     = &AppError{Type: ErrorTypePrecondition, Code: CodeNotYourTurn, Message: "not your turn"}
	ErrDeadActor       = &AppError{Type: ErrorTypePrecondition, Code: CodeDeadActor, Message: "actor is dead"}
	ErrInvalidTarget   = &AppError{Type: ErrorTypePrecondition, Code: CodeInvalidTarget, Message: "invalid target"}
	ErrInvalidAction   = &AppError{Type: ErrorTypeInvalidInput, Code: CodeInvalidAction, Message: "invalid action"}
	ErrUnknownChoice   = &AppError{Type: ErrorTypePrecondition, Code: CodeUnknownChoice, Message: "unknown choice"}
	ErrSessionReadOnly = &AppError{Type: ErrorTypeInvariant, Code: CodeSessionReadOnly, Message: "session is read-only"}
)

func isType(err error, t ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == t
	}
	return false
}

func IsInvalidInputError(err error) bool { return isType(err, ErrorTypeInvalidInput) }
func IsNotFoundError(err error) bool     { return isType(err, ErrorTypeNotFound) }
func IsPreconditionError(err error) bool { return isType(err, ErrorTypePrecondition) }
func IsInvariantError(err error) bool    { return isType(err, ErrorTypeInvariant) }
func IsUpstreamError(err error) bool     { return isType(err, ErrorTypeUpstreamUnavailable) }
func IsPersistenceError(err error) bool  { return isType(err, ErrorTypePersistence) }

// TypeOf reports the ErrorType of err, or "" when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// CodeOf reports the reason code of err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Code
	}
	return ""
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeInvalidInput:
		return CodeInvalidInput
	case ErrorTypeNotFound:
		return CodeNotFound
	case ErrorTypePrecondition:
		return CodePreconditionFailed
	case ErrorTypeInvariant:
		return CodeInvariantViolation
	case ErrorTypeUpstreamUnavailable:
		return CodeUpstreamUnavailable
	case ErrorTypePersistence:
		return CodePersistenceError
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError prefixes message onto err. An AppError keeps its type and code.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
