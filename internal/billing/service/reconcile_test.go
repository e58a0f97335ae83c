package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
)

func seedAccount(t *testing.T, svc billingdomain.Service, owner snowflake.ID, snap billingdomain.SubscriptionSnapshot) {
	t.Helper()
	if _, err := svc.ApplySnapshot(context.Background(), owner, snap); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestReconcileShrinksImmediately(t *testing.T) {
	owner := snowflake.ID(21)
	provider := &fakeProvider{}
	svc, db, clk := setupBillingService(t, provider, &fakeCounter{count: 1})

	seedAccount(t, svc, owner, activeSnapshot("sub_1", "cus_1", 3, owner, clk.Now()))

	provider.retrieve = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		require.Equal(t, "sub_1", subscriptionID)
		return activeSnapshot("sub_1", "cus_1", 3, owner, clk.Now()), nil
	}
	provider.update = func(subscriptionID, itemID string, quantity int64) (billingdomain.SubscriptionSnapshot, error) {
		require.Equal(t, "sub_1", subscriptionID)
		require.Equal(t, "si_sub_1", itemID)
		require.EqualValues(t, 1, quantity)
		return activeSnapshot("sub_1", "cus_1", quantity, owner, clk.Now()), nil
	}

	result, err := svc.ReconcileQuantity(context.Background(), owner)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.EqualValues(t, 1, result.NewQuantity)
	require.Equal(t, billingdomain.StatusActive, result.Status)

	_, _, _, updates, cancels := provider.calls()
	require.Equal(t, 1, updates)
	require.Equal(t, 0, cancels)

	stored := findAccount(t, db, owner)
	require.EqualValues(t, 1, stored.Quantity)
}

func TestReconcileCancelsAtZero(t *testing.T) {
	owner := snowflake.ID(22)
	provider := &fakeProvider{}
	svc, db, clk := setupBillingService(t, provider, &fakeCounter{count: 0})

	seedAccount(t, svc, owner, activeSnapshot("sub_1", "cus_1", 2, owner, clk.Now()))

	provider.retrieve = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		return activeSnapshot("sub_1", "cus_1", 2, owner, clk.Now()), nil
	}
	provider.cancel = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		snap := activeSnapshot("sub_1", "cus_1", 2, owner, clk.Now())
		snap.Status = billingdomain.StatusCanceled
		return snap, nil
	}

	result, err := svc.ReconcileQuantity(context.Background(), owner)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.EqualValues(t, 0, result.NewQuantity)
	require.Equal(t, billingdomain.StatusCanceled, result.Status)

	stored := findAccount(t, db, owner)
	require.Equal(t, billingdomain.StatusCanceled, stored.Status)
	require.EqualValues(t, 0, stored.Quantity)
	require.False(t, stored.CancelAtPeriodEnd)
}

func TestReconcileNeverIncreasesAutomatically(t *testing.T) {
	owner := snowflake.ID(23)
	provider := &fakeProvider{}
	svc, db, clk := setupBillingService(t, provider, &fakeCounter{count: 5})

	seedAccount(t, svc, owner, activeSnapshot("sub_1", "cus_1", 2, owner, clk.Now()))

	provider.retrieve = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		return activeSnapshot("sub_1", "cus_1", 2, owner, clk.Now()), nil
	}

	result, err := svc.ReconcileQuantity(context.Background(), owner)
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.EqualValues(t, 2, result.NewQuantity)
	require.Equal(t, billingdomain.ReasonUseUpgradeFlow, result.Reason)

	_, _, _, updates, cancels := provider.calls()
	require.Equal(t, 0, updates)
	require.Equal(t, 0, cancels)

	stored := findAccount(t, db, owner)
	require.EqualValues(t, 2, stored.Quantity)
}

func TestReconcileHonorsProviderCancellation(t *testing.T) {
	owner := snowflake.ID(24)
	provider := &fakeProvider{}
	svc, db, clk := setupBillingService(t, provider, &fakeCounter{count: 1})

	seedAccount(t, svc, owner, activeSnapshot("sub_1", "cus_1", 3, owner, clk.Now()))

	// Canceled on the provider side between our read and the sweep: fetched
	// state wins and the pending quantity change is abandoned.
	provider.retrieve = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		snap := activeSnapshot("sub_1", "cus_1", 0, owner, clk.Now())
		snap.Status = billingdomain.StatusCanceled
		return snap, nil
	}

	result, err := svc.ReconcileQuantity(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, billingdomain.StatusCanceled, result.Status)

	_, _, _, updates, cancels := provider.calls()
	require.Equal(t, 0, updates)
	require.Equal(t, 0, cancels)

	stored := findAccount(t, db, owner)
	require.Equal(t, billingdomain.StatusCanceled, stored.Status)
}

func TestReconcileRecordsVanishedSubscription(t *testing.T) {
	owner := snowflake.ID(25)
	provider := &fakeProvider{}
	svc, db, clk := setupBillingService(t, provider, &fakeCounter{count: 1})

	seedAccount(t, svc, owner, activeSnapshot("sub_1", "cus_1", 3, owner, clk.Now()))

	provider.retrieve = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		return billingdomain.SubscriptionSnapshot{}, billingdomain.ErrSubscriptionNotFound
	}

	result, err := svc.ReconcileQuantity(context.Background(), owner)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, billingdomain.StatusCanceled, result.Status)

	stored := findAccount(t, db, owner)
	require.Equal(t, billingdomain.StatusCanceled, stored.Status)
	require.EqualValues(t, 0, stored.Quantity)
}

func TestReconcileNoopWithoutBillingData(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, _ := setupBillingService(t, provider, &fakeCounter{count: 2})

	result, err := svc.ReconcileQuantity(context.Background(), snowflake.ID(26))
	require.NoError(t, err)
	require.False(t, result.Changed)
	require.Equal(t, billingdomain.StatusNone, result.Status)
}

func TestAfterResourceChangeSurvivesProviderOutage(t *testing.T) {
	owner := snowflake.ID(27)
	provider := &fakeProvider{}
	svc, db, clk := setupBillingService(t, provider, &fakeCounter{count: 1})

	seedAccount(t, svc, owner, activeSnapshot("sub_1", "cus_1", 3, owner, clk.Now()))

	provider.retrieve = func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
		return billingdomain.SubscriptionSnapshot{}, billingdomain.ErrProviderUnavailable
	}

	sync := svc.AfterResourceChange(context.Background(), owner)
	require.False(t, sync.QuantitySynced)
	require.NotEmpty(t, sync.SyncError)

	// Unknown provider state never downgrades the stored projection.
	stored := findAccount(t, db, owner)
	require.Equal(t, billingdomain.StatusActive, stored.Status)
	require.EqualValues(t, 3, stored.Quantity)
}
