package handler

import (
	"errors"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/pkg/apperror"
	"wallet-reconciler/pkg/response"

	"github.com/gin-gonic/gin"
)

// toAppError maps domain sentinels onto API error codes. Errors that already carry a code
// pass through; anything unrecognised becomes SYS_001.
func toAppError(err error) *apperror.AppError {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperror.ErrNotFound("Wallet")
	case errors.Is(err, domain.ErrDuplicateAddress):
		return withCause(apperror.ErrDuplicateAddress(err.Error()), err)
	case errors.Is(err, domain.ErrUnsupportedOperation):
		return withCause(apperror.ErrUnsupportedOperation(err.Error()), err)
	case errors.Is(err, domain.ErrInvalidInput):
		return withCause(apperror.ErrInvalidInput(err.Error()), err)
	case errors.Is(err, domain.ErrChainUnavailable):
		return apperror.ErrChainUnavailable(err)
	default:
		return apperror.InternalError(err)
	}
}

func withCause(e *apperror.AppError, err error) *apperror.AppError {
	e.Err = err
	return e
}

// writeError renders err through toAppError.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Error(c, toAppError(err))
}
