package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Error code families. One family per entry in the settlement error taxonomy.
const (
	CodeValidation          = "VAL_001"
	CodeInsufficientFunds   = "FUND_001"
	CodeStateConflict       = "STATE_001"
	CodeConcurrencyConflict = "CONC_001"
	CodeNotFound            = "NF_001"
	CodeCompensationFailed  = "SAGA_001"
	CodeComplianceRejected  = "COMP_001"
	CodeRateLimitExceeded   = "RATE_001"
	CodeInternal            = "SYS_001"
)

// ---- Validation (VAL) ----

// Validation returns an error for malformed or out-of-range input.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// ---- Funds (FUND) ----

// ErrInsufficientFunds indicates a wallet cannot satisfy a hold.
func ErrInsufficientFunds(agentID string) *AppError {
	return New(CodeInsufficientFunds, fmt.Sprintf("insufficient available funds for agent %s", agentID), http.StatusPaymentRequired)
}

// ---- State machine (STATE) ----

// StateConflict indicates an operation invalid for the aggregate's current state.
func StateConflict(message string) *AppError {
	return New(CodeStateConflict, message, http.StatusConflict)
}

// ---- Optimistic concurrency (CONC) ----

// ErrConcurrencyConflict indicates an expected-version mismatch on append.
// The caller should re-load the aggregate and retry.
func ErrConcurrencyConflict(aggregateID string, expected, actual uint64) *AppError {
	return New(CodeConcurrencyConflict,
		fmt.Sprintf("version conflict on %s: expected %d, log at %d", aggregateID, expected, actual),
		http.StatusConflict)
}

// ---- Lookup (NF) ----

// ErrNotFound indicates an unknown aggregate id.
func ErrNotFound(entity string, id string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s %s not found", entity, id), http.StatusNotFound)
}

// ---- Saga compensation (SAGA) ----

// ErrCompensationFailed indicates a compensating action itself failed after a
// saga step error. Not retried automatically: blind retry risks
// double-compensation, so this surfaces for operator intervention.
func ErrCompensationFailed(step string, err error) *AppError {
	return Wrap(CodeCompensationFailed,
		fmt.Sprintf("compensation failed at step %q, operator intervention required", step),
		http.StatusInternalServerError, err)
}

// ---- Compliance (COMP) ----

// ErrComplianceRejected indicates the external compliance check rejected a transaction.
func ErrComplianceRejected(flags []string) *AppError {
	return New(CodeComplianceRejected, fmt.Sprintf("compliance check rejected: %v", flags), http.StatusUnprocessableEntity)
}

// ---- Rate limiting (RATE) ----

// ErrRateLimitExceeded indicates too many requests in the current window.
func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "rate limit exceeded, retry later", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// ---- Predicates ----

func hasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsInsufficientFunds reports whether err is an insufficient-funds error.
func IsInsufficientFunds(err error) bool { return hasCode(err, CodeInsufficientFunds) }

// IsStateConflict reports whether err is a state-conflict error.
func IsStateConflict(err error) bool { return hasCode(err, CodeStateConflict) }

// IsConcurrencyConflict reports whether err is an optimistic-version conflict.
func IsConcurrencyConflict(err error) bool { return hasCode(err, CodeConcurrencyConflict) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsCompensationFailed reports whether err is a failed saga compensation.
func IsCompensationFailed(err error) bool { return hasCode(err, CodeCompensationFailed) }

// IsComplianceRejected reports whether err is a compliance rejection.
func IsComplianceRejected(err error) bool { return hasCode(err, CodeComplianceRejected) }
