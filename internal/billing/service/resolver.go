package service

import (
	"context"
	"errors"
	"sort"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	stripeprovider "github.com/smallshift/rosterly/internal/billing/provider/stripe"
	"github.com/smallshift/rosterly/internal/observability/metrics"
)

// resolveAccount returns the owner's projection, self-healing from the
// provider when the local row is absent or points at no subscription. Every
// successful provider resolution is persisted back (read-repair) so the next
// read needs no provider call.
func (s *Service) resolveAccount(ctx context.Context, ownerID snowflake.ID) (*billingdomain.BillingAccount, error) {
	account, err := s.repo.FindByOwner(ctx, s.db, ownerID)
	if err != nil && !errors.Is(err, billingdomain.ErrAccountNotFound) {
		return nil, err
	}
	if account != nil && account.HasSubscription() {
		return account, nil
	}

	snap, source, err := s.selfHeal(ctx, ownerID, account)
	if err != nil {
		if errors.Is(err, billingdomain.ErrProviderUnavailable) && account != nil {
			// Unknown state: keep serving what we have rather than
			// downgrading it.
			return account, nil
		}
		return nil, err
	}
	if snap == nil {
		if account != nil {
			return account, nil
		}
		return nil, billingdomain.ErrAccountNotFound
	}

	metrics.ObserveReadRepair(source)
	s.log.Info("billing projection repaired",
		zap.String("owner_id", ownerID.String()),
		zap.String("source", source),
		zap.String("subscription_id", snap.SubscriptionID))
	return s.ApplySnapshot(ctx, ownerID, *snap)
}

// selfHeal walks the resolution ladder: (a) direct retrieve by stored
// subscription ID, (b) list by stored customer ID and pick the best
// candidate, (c) search the provider by owner metadata.
func (s *Service) selfHeal(ctx context.Context, ownerID snowflake.ID, account *billingdomain.BillingAccount) (*billingdomain.SubscriptionSnapshot, string, error) {
	if account != nil && account.HasSubscription() {
		snap, err := s.provider.RetrieveSubscription(ctx, *account.ProviderSubscriptionID)
		if err == nil {
			return &snap, "retrieve", nil
		}
		if !errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			return nil, "", err
		}
	}

	if account != nil && account.ProviderCustomerID != "" {
		snaps, err := s.provider.ListSubscriptions(ctx, account.ProviderCustomerID)
		if err != nil {
			return nil, "", err
		}
		if best := pickBestCandidate(snaps); best != nil {
			return best, "list_by_customer", nil
		}
	}

	snaps, err := s.provider.SearchSubscriptionsByMetadata(ctx, stripeprovider.OwnerMetadataKey, ownerID.String())
	if err != nil {
		return nil, "", err
	}
	if best := pickBestCandidate(snaps); best != nil {
		return best, "metadata_search", nil
	}
	return nil, "", nil
}

// pickBestCandidate ranks provider subscriptions: paid first, then the most
// recently created non-canceled, then the most recent of any status.
func pickBestCandidate(snaps []billingdomain.SubscriptionSnapshot) *billingdomain.SubscriptionSnapshot {
	if len(snaps) == 0 {
		return nil
	}

	sorted := make([]billingdomain.SubscriptionSnapshot, len(snaps))
	copy(sorted, snaps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Created.After(sorted[j].Created)
	})

	for i := range sorted {
		if sorted[i].Status.Paid() {
			return &sorted[i]
		}
	}
	for i := range sorted {
		if sorted[i].Status != billingdomain.StatusCanceled {
			return &sorted[i]
		}
	}
	return &sorted[0]
}
