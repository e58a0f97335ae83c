package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrOwnerUnresolved      = errors.New("owner_unresolved")
	ErrProviderUnavailable  = errors.New("provider_unavailable")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrAccountNotFound      = errors.New("billing_account_not_found")
	ErrBillingDisabled      = errors.New("billing_disabled")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
)

// BillingStatus is the read-path view of an owner's billing state.
type BillingStatus struct {
	Status            SubscriptionStatus `json:"status"`
	Quantity          int64              `json:"quantity"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *string            `json:"current_period_end,omitempty"`
}

// ReconcileResult reports what a reconciliation run did.
type ReconcileResult struct {
	Changed     bool               `json:"changed"`
	NewQuantity int64              `json:"new_quantity"`
	Status      SubscriptionStatus `json:"status"`
	Reason      ReasonCode         `json:"reason,omitempty"`
}

// SyncResult is the non-fatal outcome surfaced by the lifecycle coordinator.
// A failed provider call never rolls back the resource change that triggered
// it; it is reported here instead.
type SyncResult struct {
	QuantitySynced bool   `json:"quantity_synced"`
	SyncError      string `json:"sync_error,omitempty"`
}

type StartCheckoutRequest struct {
	OwnerID         snowflake.ID
	OwnerEmail      string
	DesiredQuantity int64
}

type StartCheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

type Service interface {
	// GetBillingStatus reads the projection, self-healing from the provider
	// when the local row is absent or points at no subscription.
	GetBillingStatus(ctx context.Context, ownerID snowflake.ID) (BillingStatus, error)
	// Gate decides whether ownerID may create another owned resource.
	Gate(ctx context.Context, ownerID snowflake.ID) (Decision, error)
	// ReconcileQuantity aligns the provider seat count with the owner's
	// current resource count. Increases are never applied automatically.
	ReconcileQuantity(ctx context.Context, ownerID snowflake.ID) (ReconcileResult, error)
	// AfterResourceChange runs reconciliation after a resource create/delete
	// and converts any failure into a SyncResult warning.
	AfterResourceChange(ctx context.Context, ownerID snowflake.ID) SyncResult
	// ApplySnapshot upserts provider truth for ownerID. Shared by the webhook
	// processor and the reconciler so both write through one idempotent path.
	ApplySnapshot(ctx context.Context, ownerID snowflake.ID, snap SubscriptionSnapshot) (*BillingAccount, error)
	StartCheckout(ctx context.Context, req StartCheckoutRequest) (StartCheckoutResponse, error)
}

// OwnedResourceCounter is the membership-store collaborator: how many tenant
// resources does ownerID currently hold an owning role over.
type OwnedResourceCounter interface {
	CountOwned(ctx context.Context, ownerID snowflake.ID) (int64, error)
}
