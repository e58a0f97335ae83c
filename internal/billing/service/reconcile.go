package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/observability/metrics"
)

// ReconcileQuantity implements domain.Service. It aligns the provider seat
// count with the owner's current resource count: shrink immediately without
// proration, cancel outright at zero, and never auto-increase.
func (s *Service) ReconcileQuantity(ctx context.Context, ownerID snowflake.ID) (billingdomain.ReconcileResult, error) {
	desired, err := s.counter.CountOwned(ctx, ownerID)
	if err != nil {
		return billingdomain.ReconcileResult{}, err
	}

	if !s.cfg.Enabled {
		return billingdomain.ReconcileResult{
			Changed:     false,
			NewQuantity: desired,
			Status:      billingdomain.StatusNone,
			Reason:      billingdomain.ReasonActiveSubscriptionSufficient,
		}, nil
	}

	log := s.log.With(zap.String("owner_id", ownerID.String()), zap.Int64("desired_quantity", desired))

	account, err := s.resolveAccount(ctx, ownerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrAccountNotFound) {
			// Nothing to reconcile.
			metrics.ObserveReconcile("noop")
			return billingdomain.ReconcileResult{Changed: false, NewQuantity: 0, Status: billingdomain.StatusNone}, nil
		}
		metrics.ObserveReconcile("error")
		return billingdomain.ReconcileResult{}, err
	}
	if !account.HasSubscription() {
		metrics.ObserveReconcile("noop")
		return billingdomain.ReconcileResult{Changed: false, NewQuantity: account.Quantity, Status: account.Status}, nil
	}

	// Read provider truth before every write so a reconciliation racing a
	// webhook converges to the same state. A subscription the provider no
	// longer knows about is recorded as canceled.
	fresh, err := s.provider.RetrieveSubscription(ctx, *account.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			canceled := canceledSnapshot(*account, s.clock.Now())
			if _, applyErr := s.ApplySnapshot(ctx, ownerID, canceled); applyErr != nil {
				metrics.ObserveReconcile("error")
				return billingdomain.ReconcileResult{}, applyErr
			}
			metrics.ObserveReconcile("canceled")
			return billingdomain.ReconcileResult{Changed: true, NewQuantity: 0, Status: billingdomain.StatusCanceled}, nil
		}
		metrics.ObserveReconcile("error")
		return billingdomain.ReconcileResult{}, err
	}

	if fresh.Status == billingdomain.StatusCanceled {
		// State conflict: the provider canceled underneath us. Fetched state
		// is ground truth; abandon any pending quantity change.
		if _, applyErr := s.ApplySnapshot(ctx, ownerID, fresh); applyErr != nil {
			metrics.ObserveReconcile("error")
			return billingdomain.ReconcileResult{}, applyErr
		}
		metrics.ObserveReconcile("noop")
		return billingdomain.ReconcileResult{Changed: account.Status != fresh.Status, NewQuantity: fresh.Quantity, Status: fresh.Status}, nil
	}

	switch {
	case desired == 0:
		snap, err := s.provider.CancelSubscription(ctx, fresh.SubscriptionID)
		if err != nil {
			if errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
				snap = canceledSnapshot(*account, s.clock.Now())
			} else {
				metrics.ObserveReconcile("error")
				return billingdomain.ReconcileResult{}, err
			}
		}
		snap.Status = billingdomain.StatusCanceled
		snap.Quantity = 0
		snap.CancelAtPeriodEnd = false
		if _, applyErr := s.ApplySnapshot(ctx, ownerID, snap); applyErr != nil {
			metrics.ObserveReconcile("error")
			return billingdomain.ReconcileResult{}, applyErr
		}
		log.Info("subscription canceled at zero owned resources")
		metrics.ObserveReconcile("canceled")
		return billingdomain.ReconcileResult{Changed: true, NewQuantity: 0, Status: billingdomain.StatusCanceled}, nil

	case desired < fresh.Quantity:
		snap, err := s.provider.UpdateSubscriptionQuantity(ctx, fresh.SubscriptionID, fresh.ItemID, desired)
		if err != nil {
			metrics.ObserveReconcile("error")
			return billingdomain.ReconcileResult{}, err
		}
		if _, applyErr := s.ApplySnapshot(ctx, ownerID, snap); applyErr != nil {
			metrics.ObserveReconcile("error")
			return billingdomain.ReconcileResult{}, applyErr
		}
		log.Info("subscription quantity shrunk", zap.Int64("from", fresh.Quantity), zap.Int64("to", snap.Quantity))
		metrics.ObserveReconcile("shrunk")
		return billingdomain.ReconcileResult{Changed: true, NewQuantity: snap.Quantity, Status: snap.Status}, nil

	case desired > fresh.Quantity:
		// Increasing seats changes the billed amount; that is an explicit,
		// user-confirmed upgrade, never an automatic correction.
		if _, applyErr := s.ApplySnapshot(ctx, ownerID, fresh); applyErr != nil {
			metrics.ObserveReconcile("error")
			return billingdomain.ReconcileResult{}, applyErr
		}
		metrics.ObserveReconcile("upgrade_required")
		return billingdomain.ReconcileResult{
			Changed:     false,
			NewQuantity: fresh.Quantity,
			Status:      fresh.Status,
			Reason:      billingdomain.ReasonUseUpgradeFlow,
		}, nil

	default:
		if _, applyErr := s.ApplySnapshot(ctx, ownerID, fresh); applyErr != nil {
			metrics.ObserveReconcile("error")
			return billingdomain.ReconcileResult{}, applyErr
		}
		metrics.ObserveReconcile("noop")
		return billingdomain.ReconcileResult{Changed: false, NewQuantity: fresh.Quantity, Status: fresh.Status}, nil
	}
}

// AfterResourceChange implements domain.Service. It runs after a resource
// create or delete; a provider failure here never undoes the change that
// triggered it and is surfaced as a retryable warning instead.
func (s *Service) AfterResourceChange(ctx context.Context, ownerID snowflake.ID) billingdomain.SyncResult {
	if !s.cfg.Enabled {
		return billingdomain.SyncResult{QuantitySynced: true}
	}

	if _, err := s.ReconcileQuantity(ctx, ownerID); err != nil {
		s.log.Warn("post-change reconciliation failed",
			zap.String("owner_id", ownerID.String()),
			zap.Error(err))
		return billingdomain.SyncResult{QuantitySynced: false, SyncError: err.Error()}
	}
	return billingdomain.SyncResult{QuantitySynced: true}
}

// canceledSnapshot synthesizes a terminal snapshot for a subscription the
// provider has deleted server-side and can no longer serve.
func canceledSnapshot(account billingdomain.BillingAccount, fetchedAt time.Time) billingdomain.SubscriptionSnapshot {
	snap := billingdomain.SubscriptionSnapshot{FetchedAt: fetchedAt}
	snap.CustomerID = account.ProviderCustomerID
	if account.ProviderSubscriptionID != nil {
		snap.SubscriptionID = *account.ProviderSubscriptionID
	}
	if account.ProviderItemID != nil {
		snap.ItemID = *account.ProviderItemID
	}
	if account.ProviderPriceID != nil {
		snap.PriceID = *account.ProviderPriceID
	}
	snap.Status = billingdomain.StatusCanceled
	snap.Quantity = 0
	snap.CancelAtPeriodEnd = false
	return snap
}
