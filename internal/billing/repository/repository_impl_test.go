package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
)

func openDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return db
}

func allModels() []any {
	return []any{
		&billingdomain.BillingAccount{},
		&billingdomain.BillingCustomer{},
		&billingdomain.CheckoutIntent{},
		&billingdomain.OrgSubscription{},
	}
}

func snapshot(subID string, quantity int64, status billingdomain.SubscriptionStatus, fetchedAt time.Time) billingdomain.SubscriptionSnapshot {
	return billingdomain.SubscriptionSnapshot{
		SubscriptionID: subID,
		CustomerID:     "cus_1",
		ItemID:         "si_1",
		PriceID:        "price_seat",
		Status:         status,
		Quantity:       quantity,
		FetchedAt:      fetchedAt,
	}
}

func TestUpsertKeyedOnOwner(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()
	ctx := context.Background()
	owner := snowflake.ID(1)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.UpsertFromSnapshot(ctx, db, owner, snapshot("sub_1", 2, billingdomain.StatusActive, now))
	require.NoError(t, err)
	_, err = r.UpsertFromSnapshot(ctx, db, owner, snapshot("sub_1", 5, billingdomain.StatusPastDue, now.Add(time.Hour)))
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&billingdomain.BillingAccount{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	account, err := r.FindByOwner(ctx, db, owner)
	require.NoError(t, err)
	require.Equal(t, billingdomain.StatusPastDue, account.Status)
	require.EqualValues(t, 5, account.Quantity)

	var mirror billingdomain.OrgSubscription
	require.NoError(t, db.Where("owner_id = ?", owner).First(&mirror).Error)
	require.Equal(t, billingdomain.StatusPastDue, mirror.Status)
	require.EqualValues(t, 5, mirror.Quantity)
}

func TestFindByOwnerNotFound(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()

	_, err := r.FindByOwner(context.Background(), db, snowflake.ID(404))
	require.True(t, errors.Is(err, billingdomain.ErrAccountNotFound))
}

func TestFindByOwnerToleratesMissingTable(t *testing.T) {
	// No migration at all: a deployment without billing tables reads as
	// "no billing data", never as a server error.
	db := openDB(t)
	r := Provide()

	_, err := r.FindByOwner(context.Background(), db, snowflake.ID(1))
	require.True(t, errors.Is(err, billingdomain.ErrAccountNotFound))
}

func TestListStaleToleratesMissingTable(t *testing.T) {
	db := openDB(t)
	r := Provide()

	accounts, err := r.ListStale(context.Background(), db, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestListStaleFiltersAndOrders(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.UpsertFromSnapshot(ctx, db, snowflake.ID(1), snapshot("sub_old", 1, billingdomain.StatusActive, base.Add(-48*time.Hour)))
	require.NoError(t, err)
	_, err = r.UpsertFromSnapshot(ctx, db, snowflake.ID(2), snapshot("sub_older", 1, billingdomain.StatusActive, base.Add(-72*time.Hour)))
	require.NoError(t, err)
	_, err = r.UpsertFromSnapshot(ctx, db, snowflake.ID(3), snapshot("sub_fresh", 1, billingdomain.StatusActive, base))
	require.NoError(t, err)
	// No subscription pointer: never swept.
	_, err = r.UpsertFromSnapshot(ctx, db, snowflake.ID(4), snapshot("", 0, billingdomain.StatusNone, base.Add(-96*time.Hour)))
	require.NoError(t, err)

	stale, err := r.ListStale(ctx, db, base.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, snowflake.ID(2), stale[0].OwnerID)
	require.Equal(t, snowflake.ID(1), stale[1].OwnerID)
}

func TestListStaleHonorsLimit(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		_, err := r.UpsertFromSnapshot(ctx, db, snowflake.ID(i), snapshot("sub", 1, billingdomain.StatusActive, base.Add(-time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	stale, err := r.ListStale(ctx, db, base, 3)
	require.NoError(t, err)
	require.Len(t, stale, 3)
}

func TestCustomerMappingUpsert(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()
	ctx := context.Background()

	require.NoError(t, r.SaveCustomerMapping(ctx, db, "cus_1", snowflake.ID(10)))
	owner, err := r.FindOwnerByCustomer(ctx, db, "cus_1")
	require.NoError(t, err)
	require.Equal(t, snowflake.ID(10), owner)

	// Remapping the same provider customer replaces the owner.
	require.NoError(t, r.SaveCustomerMapping(ctx, db, "cus_1", snowflake.ID(11)))
	owner, err = r.FindOwnerByCustomer(ctx, db, "cus_1")
	require.NoError(t, err)
	require.Equal(t, snowflake.ID(11), owner)

	_, err = r.FindOwnerByCustomer(ctx, db, "cus_missing")
	require.True(t, errors.Is(err, billingdomain.ErrOwnerUnresolved))
}

func TestUpdateStatusLeavesQuantity(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()
	ctx := context.Background()
	owner := snowflake.ID(20)

	_, err := r.UpsertFromSnapshot(ctx, db, owner, snapshot("sub_1", 4, billingdomain.StatusActive, time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus(ctx, db, owner, billingdomain.StatusPastDue))

	account, err := r.FindByOwner(ctx, db, owner)
	require.NoError(t, err)
	require.Equal(t, billingdomain.StatusPastDue, account.Status)
	require.EqualValues(t, 4, account.Quantity)
}

func TestCompleteCheckoutIntentOnlyPending(t *testing.T) {
	db := openDB(t, allModels()...)
	r := Provide()
	ctx := context.Background()

	intent := &billingdomain.CheckoutIntent{
		ID:                snowflake.ID(1),
		OwnerID:           snowflake.ID(30),
		ProviderSessionID: "cs_1",
		DesiredQuantity:   2,
		Status:            billingdomain.CheckoutPending,
	}
	require.NoError(t, r.InsertCheckoutIntent(ctx, db, intent))

	require.NoError(t, r.CompleteCheckoutIntent(ctx, db, "cs_1"))

	var stored billingdomain.CheckoutIntent
	require.NoError(t, db.Where("provider_session_id = ?", "cs_1").First(&stored).Error)
	require.Equal(t, billingdomain.CheckoutCompleted, stored.Status)

	// Completing twice is harmless.
	require.NoError(t, r.CompleteCheckoutIntent(ctx, db, "cs_1"))
}
