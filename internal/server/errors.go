package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/salestax/internal/avatax"
	"github.com/smallbiznis/salestax/internal/lock"
	orderdomain "github.com/smallbiznis/salestax/internal/order/domain"
	salesinvoicedomain "github.com/smallbiznis/salestax/internal/salesinvoice/domain"
	taxdomain "github.com/smallbiznis/salestax/internal/tax/domain"
	"github.com/smallbiznis/salestax/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var perr *avatax.Error
	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict, errorPayload{
			Type:    "lock_held",
			Message: "order is being processed",
		}
	case errors.Is(err, salesinvoicedomain.ErrAlreadyCommitted):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "sales invoice already committed",
		}
	case errors.Is(err, ErrConflict), db.IsDuplicateKeyErr(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, taxdomain.ErrInvalidAPIResponse):
		return http.StatusBadGateway, errorPayload{
			Type:    "invalid_api_response",
			Message: "tax provider returned an inconsistent response",
		}
	case errors.As(err, &perr):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: perr.Message,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code written to request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type

	var perr *avatax.Error
	switch {
	case errors.As(err, &perr):
		code = string(perr.Kind)
	case len(payload.Errors) > 0:
		code = payload.Errors[0].Code
	case payload.Type == "not_found" || payload.Type == "conflict":
		code = rootCode(err)
	}
	return payload.Type, code
}

func rootCode(err error) string {
	for _, known := range []error{
		orderdomain.ErrOrderNotFound,
		orderdomain.ErrLineItemNotFound,
		orderdomain.ErrTaxRateNotFound,
		salesinvoicedomain.ErrInvoiceNotFound,
		salesinvoicedomain.ErrCommitInvoiceNotFound,
		salesinvoicedomain.ErrAlreadyCommitted,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "unknown"
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, taxdomain.ErrInvalidContext):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrLineItemNotFound),
		errors.Is(err, orderdomain.ErrTaxRateNotFound),
		errors.Is(err, salesinvoicedomain.ErrInvoiceNotFound),
		errors.Is(err, salesinvoicedomain.ErrCommitInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, orderdomain.ErrLineItemNotFound):
		return "line item not found"
	case errors.Is(err, orderdomain.ErrTaxRateNotFound):
		return "tax rate not found"
	case errors.Is(err, salesinvoicedomain.ErrCommitInvoiceNotFound):
		return "no draft sales invoice to commit"
	case errors.Is(err, salesinvoicedomain.ErrInvoiceNotFound):
		return "sales invoice not found"
	default:
		return "not found"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, taxdomain.ErrInvalidContext):
		return "invalid_computation_context"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if code == "invalid_computation_context" {
		return "doc_type"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_computation_context":
		return "invalid computation context"
	default:
		return "invalid value"
	}
}
