package domain

import "context"

// CheckoutParams describes the provider checkout session to create. OwnerID
// must be round-tripped onto the created subscription's metadata so webhooks
// can attribute it without a database join.
type CheckoutParams struct {
	OwnerID         string
	CustomerID      string
	CustomerEmail   string
	PriceID         string
	DesiredQuantity int64
	SuccessURL      string
	CancelURL       string
}

// CheckoutSession is the provider's handle for a created checkout session.
type CheckoutSession struct {
	SessionID  string
	URL        string
	CustomerID string
}

// ProviderClient is the thin boundary to the external billing provider.
// Every call may fail with ErrProviderUnavailable; callers must treat that as
// "unknown state" and never downgrade a stored status because of it.
type ProviderClient interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (SubscriptionSnapshot, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]SubscriptionSnapshot, error)
	SearchSubscriptionsByMetadata(ctx context.Context, key, value string) ([]SubscriptionSnapshot, error)
	// UpdateSubscriptionQuantity applies qty to the subscription's line item
	// with proration disabled.
	UpdateSubscriptionQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (SubscriptionSnapshot, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (SubscriptionSnapshot, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
	// RetrieveCustomerOwner returns the owner identity stored on the
	// provider-side customer object's metadata, or "" when absent.
	RetrieveCustomerOwner(ctx context.Context, customerID string) (string, error)
}
