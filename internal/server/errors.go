package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Hints   []string          `json:"hints,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = ierr.Kind(ierr.ErrValidation, "invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    ierr.ErrCodeSystemError,
			Message: "internal server error",
		}
	}

	var fields *ierr.FieldErrors
	if errors.As(err, &fields) {
		payload := errorPayload{
			Type:    ierr.ErrCodeValidation,
			Message: "validation error",
		}
		messages := fields.Messages()
		for _, field := range fields.Fields() {
			for _, msg := range messages[field] {
				payload.Errors = append(payload.Errors, ValidationError{Field: field, Message: msg})
			}
		}
		return http.StatusBadRequest, payload
	}

	kind := ierr.KindOf(err)
	status := ierr.HTTPStatusFromErr(err)
	if ierr.Is(err, subscriptiondomain.ErrInvalidTransition) {
		status = http.StatusBadRequest
	}

	payload := errorPayload{
		Type:    kind.Code,
		Message: err.Error(),
		Hints:   ierr.Hints(err),
	}
	if status >= http.StatusInternalServerError {
		payload.Message = kind.Message
		payload.Hints = nil
	}
	return status, payload
}

// classifyError returns the error kind code for request logs.
func classifyError(err error) string {
	var fields *ierr.FieldErrors
	if errors.As(err, &fields) {
		return ierr.ErrCodeValidation
	}
	return ierr.KindOf(err).Code
}
