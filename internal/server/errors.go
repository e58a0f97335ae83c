package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	organizationdomain "github.com/smallshift/rosterly/internal/organization/domain"
)

type errorPayload struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Reason   string `json:"reason,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

// ErrorHandlingMiddleware converts errors recorded on the gin context into a
// single JSON error body after the handler chain runs.
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

func (s *Server) mapGateDenied(denied *billingdomain.GateDeniedError) errorPayload {
	payload := errorPayload{
		Type:    "billing_gate_denied",
		Message: "an active subscription with enough seats is required",
		Reason:  string(denied.Decision.Reason),
	}
	switch denied.Decision.Reason {
	case billingdomain.ReasonUseUpgradeFlow:
		payload.Redirect = s.cfg.Billing.UpgradeURL
	case billingdomain.ReasonNoSubscription:
		payload.Redirect = "/admin/billing/checkout"
	}
	return payload
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, organizationdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, billingdomain.ErrBillingDisabled):
		return http.StatusConflict, errorPayload{
			Type:    "billing_disabled",
			Message: "billing is disabled for this deployment",
		}
	case errors.Is(err, billingdomain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "provider_unavailable",
			Message: "the billing provider could not be reached",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidTimezone),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, billingdomain.ErrInvalidQuantity),
		errors.Is(err, billingdomain.ErrInvalidPayload),
		errors.Is(err, billingdomain.ErrInvalidSignature):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrOrganizationGone),
		errors.Is(err, billingdomain.ErrAccountNotFound),
		errors.Is(err, billingdomain.ErrSubscriptionNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
