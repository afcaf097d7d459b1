package apperror

import (
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

// ---- Wallet Domain (WLT) ----

func ErrInvalidInput(message string) *AppError {
	return New("WLT_001", message, http.StatusBadRequest)
}

func ErrUnsupportedOperation(message string) *AppError {
	return New("WLT_002", message, http.StatusUnprocessableEntity)
}

func ErrDuplicateAddress(message string) *AppError {
	return New("WLT_003", message, http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("WLT_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrInvalidMnemonic(err error) *AppError {
	return Wrap("WLT_005", "Mnemonic checksum is invalid", http.StatusUnprocessableEntity, err)
}

func ErrChainUnavailable(err error) *AppError {
	return Wrap("WLT_006", "Chain endpoint unavailable", http.StatusBadGateway, err)
}

func ErrBodyTooLarge(limit int64) *AppError {
	return New("WLT_007", fmt.Sprintf("Request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_002", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a WLT_001 validation error.
func Validation(message string) *AppError {
	return ErrInvalidInput(message)
}
