package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/billing/repository"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/config"
)

type fakeProvider struct {
	mu sync.Mutex

	retrieve      func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error)
	list          func(customerID string) ([]billingdomain.SubscriptionSnapshot, error)
	search        func(key, value string) ([]billingdomain.SubscriptionSnapshot, error)
	update        func(subscriptionID, itemID string, quantity int64) (billingdomain.SubscriptionSnapshot, error)
	cancel        func(subscriptionID string) (billingdomain.SubscriptionSnapshot, error)
	checkout      func(params billingdomain.CheckoutParams) (billingdomain.CheckoutSession, error)
	customerOwner func(customerID string) (string, error)

	retrieveCalls int
	listCalls     int
	searchCalls   int
	updateCalls   int
	cancelCalls   int
}

func (f *fakeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
	f.mu.Lock()
	f.retrieveCalls++
	f.mu.Unlock()
	if f.retrieve == nil {
		return billingdomain.SubscriptionSnapshot{}, billingdomain.ErrSubscriptionNotFound
	}
	return f.retrieve(subscriptionID)
}

func (f *fakeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]billingdomain.SubscriptionSnapshot, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.list == nil {
		return nil, nil
	}
	return f.list(customerID)
}

func (f *fakeProvider) SearchSubscriptionsByMetadata(ctx context.Context, key, value string) ([]billingdomain.SubscriptionSnapshot, error) {
	f.mu.Lock()
	f.searchCalls++
	f.mu.Unlock()
	if f.search == nil {
		return nil, nil
	}
	return f.search(key, value)
}

func (f *fakeProvider) UpdateSubscriptionQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (billingdomain.SubscriptionSnapshot, error) {
	f.mu.Lock()
	f.updateCalls++
	f.mu.Unlock()
	if f.update == nil {
		return billingdomain.SubscriptionSnapshot{}, billingdomain.ErrSubscriptionNotFound
	}
	return f.update(subscriptionID, itemID, quantity)
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (billingdomain.SubscriptionSnapshot, error) {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
	if f.cancel == nil {
		return billingdomain.SubscriptionSnapshot{}, billingdomain.ErrSubscriptionNotFound
	}
	return f.cancel(subscriptionID)
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, params billingdomain.CheckoutParams) (billingdomain.CheckoutSession, error) {
	if f.checkout == nil {
		return billingdomain.CheckoutSession{}, billingdomain.ErrProviderUnavailable
	}
	return f.checkout(params)
}

func (f *fakeProvider) RetrieveCustomerOwner(ctx context.Context, customerID string) (string, error) {
	if f.customerOwner == nil {
		return "", nil
	}
	return f.customerOwner(customerID)
}

func (f *fakeProvider) calls() (retrieve, list, search, update, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retrieveCalls, f.listCalls, f.searchCalls, f.updateCalls, f.cancelCalls
}

type fakeCounter struct {
	count int64
	err   error
}

func (f *fakeCounter) CountOwned(ctx context.Context, ownerID snowflake.ID) (int64, error) {
	return f.count, f.err
}

func openBillingDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&billingdomain.BillingAccount{},
		&billingdomain.BillingCustomer{},
		&billingdomain.CheckoutIntent{},
		&billingdomain.OrgSubscription{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testBillingConfig(enabled bool) config.BillingConfig {
	return config.BillingConfig{
		Enabled:            enabled,
		SeatPriceID:        "price_seat",
		CheckoutSuccessURL: "https://app.example.test/billing/success",
		CheckoutCancelURL:  "https://app.example.test/billing/cancel",
		UpgradeURL:         "https://app.example.test/billing/upgrade",
	}
}

func setupBillingService(t *testing.T, provider *fakeProvider, counter *fakeCounter) (billingdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db := openBillingDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Cfg:   testBillingConfig(true),

		Repo:     repository.Provide(),
		Provider: provider,
		Counter:  counter,
	})
	return svc, db, clk
}

func activeSnapshot(subID, customerID string, quantity int64, owner snowflake.ID, created time.Time) billingdomain.SubscriptionSnapshot {
	periodEnd := created.Add(30 * 24 * time.Hour)
	return billingdomain.SubscriptionSnapshot{
		SubscriptionID:   subID,
		CustomerID:       customerID,
		ItemID:           "si_" + subID,
		PriceID:          "price_seat",
		Status:           billingdomain.StatusActive,
		Quantity:         quantity,
		CurrentPeriodEnd: &periodEnd,
		Created:          created,
		OwnerMetadata:    owner.String(),
		FetchedAt:        created,
	}
}

func findAccount(t *testing.T, db *gorm.DB, ownerID snowflake.ID) *billingdomain.BillingAccount {
	t.Helper()

	var account billingdomain.BillingAccount
	if err := db.Where("owner_id = ?", ownerID).First(&account).Error; err != nil {
		t.Fatalf("find account: %v", err)
	}
	return &account
}
