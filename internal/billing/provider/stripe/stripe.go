// Package stripe implements the billing provider boundary on the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/config"
)

// OwnerMetadataKey is round-tripped onto checkout sessions and subscriptions
// so webhook attribution never needs a database join.
const OwnerMetadataKey = "owner_id"

type Client struct {
	clock   clock.Clock
	timeout time.Duration
}

// NewClient configures the Stripe SDK and returns the provider boundary.
func NewClient(cfg config.BillingConfig, clk clock.Clock) domain.ProviderClient {
	stripelib.Key = cfg.StripeSecretKey
	return &Client{clock: clk, timeout: cfg.ProviderTimeout}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) RetrieveSubscription(ctx context.Context, subscriptionID string) (domain.SubscriptionSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	sub, err := subscription.Get(subscriptionID, &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
	})
	if err != nil {
		return domain.SubscriptionSnapshot{}, mapErr("retrieve subscription", err)
	}
	return c.toSnapshot(sub), nil
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]domain.SubscriptionSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx

	var snaps []domain.SubscriptionSnapshot
	iter := subscription.List(params)
	for iter.Next() {
		snaps = append(snaps, c.toSnapshot(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapErr("list subscriptions", err)
	}
	return snaps, nil
}

func (c *Client) SearchSubscriptionsByMetadata(ctx context.Context, key, value string) ([]domain.SubscriptionSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripelib.SubscriptionSearchParams{
		SearchParams: stripelib.SearchParams{
			Query:   fmt.Sprintf("metadata['%s']:'%s'", key, value),
			Context: ctx,
		},
	}

	var snaps []domain.SubscriptionSnapshot
	iter := subscription.Search(params)
	for iter.Next() {
		snaps = append(snaps, c.toSnapshot(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapErr("search subscriptions", err)
	}
	return snaps, nil
}

func (c *Client) UpdateSubscriptionQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (domain.SubscriptionSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	// Shrinks are a courtesy, not a refund event: proration stays off.
	sub, err := subscription.Update(subscriptionID, &stripelib.SubscriptionParams{
		Params:            stripelib.Params{Context: ctx},
		ProrationBehavior: stripelib.String("none"),
		Items: []*stripelib.SubscriptionItemsParams{
			{
				ID:       stripelib.String(itemID),
				Quantity: stripelib.Int64(quantity),
			},
		},
	})
	if err != nil {
		return domain.SubscriptionSnapshot{}, mapErr("update subscription quantity", err)
	}
	return c.toSnapshot(sub), nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (domain.SubscriptionSnapshot, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	sub, err := subscription.Cancel(subscriptionID, &stripelib.SubscriptionCancelParams{
		Params: stripelib.Params{Context: ctx},
	})
	if err != nil {
		return domain.SubscriptionSnapshot{}, mapErr("cancel subscription", err)
	}
	return c.toSnapshot(sub), nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, p domain.CheckoutParams) (domain.CheckoutSession, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripelib.CheckoutSessionParams{
		Params: stripelib.Params{Context: ctx},
		Mode:   stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(p.PriceID),
				Quantity: stripelib.Int64(p.DesiredQuantity),
			},
		},
		SuccessURL:        stripelib.String(p.SuccessURL),
		CancelURL:         stripelib.String(p.CancelURL),
		ClientReferenceID: stripelib.String(p.OwnerID),
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{OwnerMetadataKey: p.OwnerID},
		},
	}
	params.AddMetadata(OwnerMetadataKey, p.OwnerID)

	if p.CustomerID != "" {
		params.Customer = stripelib.String(p.CustomerID)
	} else if p.CustomerEmail != "" {
		params.CustomerEmail = stripelib.String(p.CustomerEmail)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return domain.CheckoutSession{}, mapErr("create checkout session", err)
	}

	out := domain.CheckoutSession{SessionID: sess.ID, URL: sess.URL}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	return out, nil
}

func (c *Client) RetrieveCustomerOwner(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	cust, err := customer.Get(customerID, &stripelib.CustomerParams{
		Params: stripelib.Params{Context: ctx},
	})
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) || isNotFound(err) {
			return "", nil
		}
		return "", mapErr("retrieve customer", err)
	}
	if cust.Deleted {
		return "", nil
	}
	return cust.Metadata[OwnerMetadataKey], nil
}

// toSnapshot converts a Stripe subscription into the provider-neutral
// snapshot. Quantity and period fields live on the first line item.
func (c *Client) toSnapshot(sub *stripelib.Subscription) domain.SubscriptionSnapshot {
	snap := domain.SubscriptionSnapshot{
		SubscriptionID:    sub.ID,
		Status:            domain.ParseSubscriptionStatus(string(sub.Status)),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Created:           time.Unix(sub.Created, 0).UTC(),
		OwnerMetadata:     sub.Metadata[OwnerMetadataKey],
		FetchedAt:         c.clock.Now(),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		snap.ItemID = item.ID
		snap.Quantity = item.Quantity
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			snap.CurrentPeriodEnd = &end
		}
	}
	return snap
}

func isNotFound(err error) bool {
	var stripeErr *stripelib.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound
}

// mapErr classifies provider failures. Transport errors, rate limits and
// provider 5xx all collapse to ErrProviderUnavailable: the caller must treat
// them as "unknown state", never as "inactive".
func mapErr(op string, err error) error {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrSubscriptionNotFound)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%s: %s: %w", op, stripeErr.Code, domain.ErrProviderUnavailable)
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrProviderUnavailable)
}
