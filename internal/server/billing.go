package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
)

// Stripe sends event payloads well under this; anything larger is abuse.
const maxWebhookBody = 1 << 20

// HandleStripeWebhook verifies and processes one provider event. Signature
// and payload defects are acknowledged with 4xx so the provider stops
// retrying them; transient failures return 5xx to request redelivery.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, billingdomain.ErrInvalidPayload)
		return
	}

	err = s.webhooks.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billingdomain.ErrInvalidSignature) || errors.Is(err, billingdomain.ErrInvalidPayload) {
			AbortWithError(c, err)
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorPayload{
			Type:    "webhook_retryable",
			Message: "event processing failed, retry later",
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) HandleBillingStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	status, err := s.billingSvc.GetBillingStatus(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

type startCheckoutRequest struct {
	Email    string `json:"email"`
	Quantity int64  `json:"quantity"`
}

func (s *Server) HandleStartCheckout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	resp, err := s.billingSvc.StartCheckout(c.Request.Context(), billingdomain.StartCheckoutRequest{
		OwnerID:         userID,
		OwnerEmail:      req.Email,
		DesiredQuantity: req.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleReconcile triggers an on-demand reconciliation for the caller,
// useful from support tooling when a webhook was missed.
func (s *Server) HandleReconcile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.billingSvc.ReconcileQuantity(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
