// Package webhook ingests provider events and drives the billing projection
// through idempotent upserts.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	stripeprovider "github.com/smallshift/rosterly/internal/billing/provider/stripe"
	"github.com/smallshift/rosterly/internal/config"
	"github.com/smallshift/rosterly/internal/observability/metrics"
	pkgdb "github.com/smallshift/rosterly/pkg/db"
)

// Processor verifies, classifies and applies one provider event per call.
// It never trusts event payload state: every subscription-bearing event is
// re-fetched from the provider before writing, which makes duplicate and
// reordered deliveries converge to the same projection.
type Processor struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.BillingConfig

	repo     billingdomain.Repository
	provider billingdomain.ProviderClient
	svc      billingdomain.Service
}

type ProcessorParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.BillingConfig

	Repo     billingdomain.Repository
	Provider billingdomain.ProviderClient
	Svc      billingdomain.Service
}

func NewProcessor(p ProcessorParam) *Processor {
	return &Processor{
		db:  p.DB,
		log: p.Log.Named("billing.webhook"),
		cfg: p.Cfg,

		repo:     p.Repo,
		provider: p.Provider,
		svc:      p.Svc,
	}
}

// Process handles one delivery. A nil return acknowledges the event;
// ErrInvalidSignature and ErrInvalidPayload are terminal (the provider will
// not redeliver); any other error asks the provider to retry.
func (p *Processor) Process(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := stripewebhook.ConstructEventWithOptions(payload, signatureHeader, p.cfg.StripeWebhookSecret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.ObserveWebhookEvent("unknown", "invalid_signature")
		return fmt.Errorf("verify webhook: %w", billingdomain.ErrInvalidSignature)
	}

	log := p.log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	outcome, err := p.dispatch(ctx, log, &event)
	metrics.ObserveWebhookEvent(string(event.Type), outcome)
	if err != nil {
		log.Error("webhook processing failed", zap.String("outcome", outcome), zap.Error(err))
		return err
	}
	log.Info("webhook processed", zap.String("outcome", outcome))
	return nil
}

func (p *Processor) dispatch(ctx context.Context, log *zap.Logger, event *stripelib.Event) (string, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionChange(ctx, log, event.Data.Raw)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, log, event.Data.Raw)
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, log, event.Data.Raw)
	case "invoice.paid":
		return p.handleInvoicePaid(ctx, log, event.Data.Raw)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(ctx, log, event.Data.Raw)
	default:
		// Forward compatibility: unknown types are acknowledged untouched.
		log.Debug("webhook ignored (unhandled type)")
		return "ignored", nil
	}
}

// subscriptionEvent is the minimal slice of a subscription payload the
// processor reads. State always comes from a re-fetch, never from here.
type subscriptionEvent struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutSessionEvent struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type invoiceEvent struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (e invoiceEvent) subscriptionID() string {
	if e.Subscription != "" {
		return e.Subscription
	}
	return e.Parent.SubscriptionDetails.Subscription
}

func (p *Processor) handleSubscriptionChange(ctx context.Context, log *zap.Logger, raw []byte) (string, error) {
	var evt subscriptionEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.ID == "" {
		return "invalid_payload", fmt.Errorf("decode subscription event: %w", billingdomain.ErrInvalidPayload)
	}

	snap, err := p.provider.RetrieveSubscription(ctx, evt.ID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			// Gone between delivery and fetch; the deleted event carries the
			// terminal state.
			log.Info("subscription unfetchable, acknowledged", zap.String("subscription_id", evt.ID))
			return "acked", nil
		}
		return "error", err
	}

	ownerID, err := p.resolveOwner(ctx, snap.OwnerMetadata, snap.CustomerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrOwnerUnresolved) {
			// Expected during the race window between checkout and webhook
			// delivery. Never fail loudly for data we cannot attribute yet.
			log.Warn("webhook owner unresolved, acknowledged",
				zap.String("subscription_id", snap.SubscriptionID),
				zap.String("customer_id", snap.CustomerID))
			return "unattributed", nil
		}
		return "error", err
	}

	if _, err := p.svc.ApplySnapshot(ctx, ownerID, snap); err != nil {
		return "error", err
	}
	return "applied", nil
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, log *zap.Logger, raw []byte) (string, error) {
	var evt subscriptionEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.ID == "" {
		return "invalid_payload", fmt.Errorf("decode subscription event: %w", billingdomain.ErrInvalidPayload)
	}

	// Best effort re-fetch: a deleted subscription may already be
	// unfetchable server-side, so the payload identifiers are the fallback.
	snap, err := p.provider.RetrieveSubscription(ctx, evt.ID)
	if err != nil {
		if !errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			return "error", err
		}
		snap = billingdomain.SubscriptionSnapshot{
			SubscriptionID: evt.ID,
			CustomerID:     evt.Customer,
			OwnerMetadata:  evt.Metadata[stripeprovider.OwnerMetadataKey],
		}
	}

	ownerID, err := p.resolveOwner(ctx, snap.OwnerMetadata, snap.CustomerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrOwnerUnresolved) {
			log.Warn("deleted subscription owner unresolved, acknowledged",
				zap.String("subscription_id", evt.ID))
			return "unattributed", nil
		}
		return "error", err
	}

	// Forced terminal state regardless of what the fetch said.
	snap.Status = billingdomain.StatusCanceled
	snap.Quantity = 0
	snap.CancelAtPeriodEnd = false

	if _, err := p.svc.ApplySnapshot(ctx, ownerID, snap); err != nil {
		return "error", err
	}
	return "applied", nil
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, log *zap.Logger, raw []byte) (string, error) {
	var evt checkoutSessionEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.ID == "" {
		return "invalid_payload", fmt.Errorf("decode checkout session: %w", billingdomain.ErrInvalidPayload)
	}

	ownerMeta := evt.Metadata[stripeprovider.OwnerMetadataKey]
	if ownerMeta == "" {
		ownerMeta = evt.ClientReferenceID
	}

	if ownerID, err := snowflake.ParseString(ownerMeta); err == nil && evt.Customer != "" {
		if err := p.repo.SaveCustomerMapping(ctx, p.db, evt.Customer, ownerID); err != nil && !pkgdb.IsMissingTableErr(err) {
			return "error", err
		}
	}
	if err := p.repo.CompleteCheckoutIntent(ctx, p.db, evt.ID); err != nil {
		return "error", err
	}

	if evt.Subscription == "" {
		return "acked", nil
	}

	snap, err := p.provider.RetrieveSubscription(ctx, evt.Subscription)
	if err != nil {
		if errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			log.Info("checkout subscription unfetchable, acknowledged",
				zap.String("subscription_id", evt.Subscription))
			return "acked", nil
		}
		return "error", err
	}
	if snap.OwnerMetadata == "" {
		snap.OwnerMetadata = ownerMeta
	}

	ownerID, err := p.resolveOwner(ctx, snap.OwnerMetadata, snap.CustomerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrOwnerUnresolved) {
			log.Warn("checkout owner unresolved, acknowledged", zap.String("session_id", evt.ID))
			return "unattributed", nil
		}
		return "error", err
	}

	if _, err := p.svc.ApplySnapshot(ctx, ownerID, snap); err != nil {
		return "error", err
	}
	return "applied", nil
}

func (p *Processor) handleInvoicePaid(ctx context.Context, log *zap.Logger, raw []byte) (string, error) {
	var evt invoiceEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return "invalid_payload", fmt.Errorf("decode invoice: %w", billingdomain.ErrInvalidPayload)
	}

	subID := evt.subscriptionID()
	if subID == "" {
		return "acked", nil
	}

	snap, err := p.provider.RetrieveSubscription(ctx, subID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			return "acked", nil
		}
		return "error", err
	}

	ownerID, err := p.resolveOwner(ctx, snap.OwnerMetadata, snap.CustomerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrOwnerUnresolved) {
			log.Warn("invoice owner unresolved, acknowledged", zap.String("subscription_id", subID))
			return "unattributed", nil
		}
		return "error", err
	}

	if _, err := p.svc.ApplySnapshot(ctx, ownerID, snap); err != nil {
		return "error", err
	}
	return "applied", nil
}

// handleInvoicePaymentFailed moves the owner to past_due without touching
// quantity. The next paid invoice or subscription update restores the
// provider-reported status through the normal re-fetch path.
func (p *Processor) handleInvoicePaymentFailed(ctx context.Context, log *zap.Logger, raw []byte) (string, error) {
	var evt invoiceEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return "invalid_payload", fmt.Errorf("decode invoice: %w", billingdomain.ErrInvalidPayload)
	}

	var (
		ownerID snowflake.ID
		err     error
	)
	if subID := evt.subscriptionID(); subID != "" {
		snap, fetchErr := p.provider.RetrieveSubscription(ctx, subID)
		if fetchErr == nil {
			ownerID, err = p.resolveOwner(ctx, snap.OwnerMetadata, snap.CustomerID)
		} else if errors.Is(fetchErr, billingdomain.ErrSubscriptionNotFound) {
			ownerID, err = p.resolveOwner(ctx, "", evt.Customer)
		} else {
			return "error", fetchErr
		}
	} else {
		ownerID, err = p.resolveOwner(ctx, "", evt.Customer)
	}
	if err != nil {
		if errors.Is(err, billingdomain.ErrOwnerUnresolved) {
			log.Warn("failed invoice owner unresolved, acknowledged", zap.String("customer_id", evt.Customer))
			return "unattributed", nil
		}
		return "error", err
	}

	if err := p.repo.UpdateStatus(ctx, p.db, ownerID, billingdomain.StatusPastDue); err != nil {
		return "error", err
	}
	return "applied", nil
}

// resolveOwner walks the attribution ladder: subscription metadata, the
// customer mapping table, then the provider-side customer object.
func (p *Processor) resolveOwner(ctx context.Context, ownerMetadata, customerID string) (snowflake.ID, error) {
	if ownerMetadata != "" {
		if id, err := snowflake.ParseString(ownerMetadata); err == nil {
			return id, nil
		}
	}

	if customerID == "" {
		return 0, billingdomain.ErrOwnerUnresolved
	}

	if id, err := p.repo.FindOwnerByCustomer(ctx, p.db, customerID); err == nil {
		return id, nil
	}

	ownerMeta, err := p.provider.RetrieveCustomerOwner(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if ownerMeta == "" {
		return 0, billingdomain.ErrOwnerUnresolved
	}
	id, err := snowflake.ParseString(ownerMeta)
	if err != nil {
		return 0, billingdomain.ErrOwnerUnresolved
	}
	if saveErr := p.repo.SaveCustomerMapping(ctx, p.db, customerID, id); saveErr != nil && !pkgdb.IsMissingTableErr(saveErr) {
		p.log.Warn("customer mapping write failed", zap.String("customer_id", customerID), zap.Error(saveErr))
	}
	return id, nil
}
