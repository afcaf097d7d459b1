// Package response writes the JSON envelopes and downloads every API route returns.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"wallet-reconciler/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDKey = "request_id"

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data any) {
	success(c, http.StatusOK, data)
}

// Created sends a 201 response with data.
func Created(c *gin.Context, data any) {
	success(c, http.StatusCreated, data)
}

// Secret sends data that carries key material. Intermediaries and browsers are told not
// to keep a copy.
func Secret(c *gin.Context, status int, data any) {
	NoStore(c)
	success(c, status, data)
}

// NoStore marks the response as uncacheable.
func NoStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// Attachment streams a download. write fills the body; once it has written, a failure
// can only be logged by the caller since the status line is already out.
func Attachment(c *gin.Context, contentType, filename string, write func(w gin.ResponseWriter) error) error {
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("X-Request-ID", requestID(c))
	c.Status(http.StatusOK)
	return write(c.Writer)
}

// Error sends an error response. An *apperror.AppError anywhere in the chain decides the
// status and code; anything else is a 500 with a generic message.
func Error(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "SYS_000", "Internal server error"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, code, message = appErr.HTTPStatus, appErr.Code, appErr.Message
	}
	c.JSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		RequestID: requestID(c),
		Timestamp: timestamp(),
	})
}

func success(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: timestamp(),
	})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// requestID returns the id set by the RequestID middleware, or a fresh one for routes
// mounted without it.
func requestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	id := uuid.NewString()
	c.Set(requestIDKey, id)
	return id
}
