// Package response renders the JSON envelopes of the settlement API. Every
// body, success or error, carries the request ID and an RFC3339 timestamp so
// agents can correlate calls and retries across the saga steps behind them.
package response

import (
	"errors"
	"net/http"
	"time"

	"agent-settlement-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse wraps operation results.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse carries a stable error code clients can branch on.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// OK sends data with status 200.
func OK(c *gin.Context, data interface{}) {
	writeData(c, http.StatusOK, data)
}

// Created sends data with status 201.
func Created(c *gin.Context, data interface{}) {
	writeData(c, http.StatusCreated, data)
}

func writeData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: stamp(),
	})
}

// Error maps an *apperror.AppError to its status and code. Anything else is
// reported as an opaque 500 so internals never leak into a response body.
func Error(c *gin.Context, err error) {
	code, message, status := "SYS_000", "Internal server error", http.StatusInternalServerError
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code, message, status = appErr.Code, appErr.Message, appErr.HTTPStatus
	}
	c.JSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		RequestID: requestID(c),
		Timestamp: stamp(),
	})
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// requestID reads the ID the middleware stored, or mints one for callers
// outside the middleware chain. The key is spelled out here because the
// middleware package depends on this one.
func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}
