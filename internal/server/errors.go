package server

import (
	"errors"
	"net/http"

	invoicedomain "github.com/Nobledental/NOBLE-OS-sub002/internal/invoice/domain"
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	reportdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/report/domain"
	settlementdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
	treatmentdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/treatment/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/pkg/errs"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message"`
	Subject string       `json:"subject,omitempty"`
	State   string       `json:"state,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
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

func invalidRequestError(detail string) error {
	return errs.Validation(ErrInvalidRequest, "request", detail)
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    string(errs.KindValidation),
			Code:    ErrInvalidRequest.Error(),
			Message: "validation error",
			Errors:  flattenFieldErrors(fieldErrs),
		}
	}

	if kind, code, subject, state, detail, ok := errs.Describe(err); ok {
		status := http.StatusConflict
		if kind == errs.KindValidation {
			status = http.StatusBadRequest
		}
		if detail == "" {
			detail = code
		}
		return status, errorPayload{
			Type:    string(kind),
			Code:    code,
			Message: detail,
			Subject: subject,
			State:   state,
		}
	}

	if errors.Is(err, ErrRateLimited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Code:    ErrRateLimited.Error(),
			Message: "too many requests",
		}
	}

	if isNotFoundError(err) {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    err.Error(),
			Message: "not found",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog feeds the request logger with the same taxonomy the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, treatmentdomain.ErrTreatmentNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionNotFound),
		errors.Is(err, settlementdomain.ErrSettlementNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, reportdomain.ErrReportNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func flattenFieldErrors(fieldErrs validation.Errors) []FieldError {
	out := make([]FieldError, 0, len(fieldErrs))
	for field, err := range fieldErrs {
		if err == nil {
			continue
		}
		out = append(out, FieldError{Field: field, Message: err.Error()})
	}
	return out
}
