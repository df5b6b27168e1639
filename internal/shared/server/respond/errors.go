package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"meal-backend/internal/shared/telemetry"
)

// Error codes shared by the JSON routes.
const (
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
	CodeRejected   = "meal_rejected"
	CodeStorage    = "storage_error"
	CodeInternal   = "internal_error"
	CodeRateLimit  = "rate_limited"
)

// ErrorBody is the error object returned by the JSON routes.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error aborts the request with a JSON error body and logs it. Client errors log at warn
// level, server errors at error level.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// FieldIssue is one entry of a validation error's details.
type FieldIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
