package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/billing/repository"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/config"
)

type reconcileRecorder struct {
	mu     sync.Mutex
	owners []snowflake.ID
	err    error
}

func (r *reconcileRecorder) GetBillingStatus(ctx context.Context, ownerID snowflake.ID) (billingdomain.BillingStatus, error) {
	return billingdomain.BillingStatus{}, nil
}

func (r *reconcileRecorder) Gate(ctx context.Context, ownerID snowflake.ID) (billingdomain.Decision, error) {
	return billingdomain.Decision{Allowed: true}, nil
}

func (r *reconcileRecorder) ReconcileQuantity(ctx context.Context, ownerID snowflake.ID) (billingdomain.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, ownerID)
	return billingdomain.ReconcileResult{}, r.err
}

func (r *reconcileRecorder) AfterResourceChange(ctx context.Context, ownerID snowflake.ID) billingdomain.SyncResult {
	return billingdomain.SyncResult{QuantitySynced: true}
}

func (r *reconcileRecorder) ApplySnapshot(ctx context.Context, ownerID snowflake.ID, snap billingdomain.SubscriptionSnapshot) (*billingdomain.BillingAccount, error) {
	return nil, nil
}

func (r *reconcileRecorder) StartCheckout(ctx context.Context, req billingdomain.StartCheckoutRequest) (billingdomain.StartCheckoutResponse, error) {
	return billingdomain.StartCheckoutResponse{}, billingdomain.ErrBillingDisabled
}

func (r *reconcileRecorder) reconciled() []snowflake.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]snowflake.ID, len(r.owners))
	copy(out, r.owners)
	return out
}

func setupScheduler(t *testing.T, cfg config.SweepConfig, billing *reconcileRecorder) (*Scheduler, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&billingdomain.BillingAccount{}, &billingdomain.OrgSubscription{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sched := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Holder: config.NewStaticSweepConfigHolder(cfg),

		Billing: billing,
		Repo:    repository.Provide(),
	})
	return sched, db, clk
}

func seedStale(t *testing.T, db *gorm.DB, owner snowflake.ID, updatedAt time.Time) {
	t.Helper()

	subID := "sub_" + owner.String()
	require.NoError(t, db.Create(&billingdomain.BillingAccount{
		OwnerID:                owner,
		ProviderCustomerID:     "cus_" + owner.String(),
		ProviderSubscriptionID: &subID,
		Status:                 billingdomain.StatusActive,
		Quantity:               1,
		CreatedAt:              updatedAt,
		UpdatedAt:              updatedAt,
	}).Error)
}

func TestRunOnceSweepsOnlyStaleAccounts(t *testing.T) {
	billing := &reconcileRecorder{}
	sched, db, clk := setupScheduler(t, config.SweepConfig{
		Enabled:        true,
		RunInterval:    time.Minute,
		BatchSize:      10,
		StaleThreshold: 24 * time.Hour,
	}, billing)

	seedStale(t, db, snowflake.ID(1), clk.Now().Add(-48*time.Hour))
	seedStale(t, db, snowflake.ID(2), clk.Now().Add(-25*time.Hour))
	seedStale(t, db, snowflake.ID(3), clk.Now().Add(-time.Hour))

	require.NoError(t, sched.RunOnce(context.Background()))

	swept := billing.reconciled()
	require.Len(t, swept, 2)
	require.Contains(t, swept, snowflake.ID(1))
	require.Contains(t, swept, snowflake.ID(2))
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	billing := &reconcileRecorder{}
	sched, db, clk := setupScheduler(t, config.SweepConfig{
		Enabled:        true,
		RunInterval:    time.Minute,
		BatchSize:      2,
		StaleThreshold: time.Hour,
	}, billing)

	for i := 1; i <= 5; i++ {
		seedStale(t, db, snowflake.ID(i), clk.Now().Add(-time.Duration(i+1)*time.Hour))
	}

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, billing.reconciled(), 2)
}

func TestRunOnceDisabledDoesNothing(t *testing.T) {
	billing := &reconcileRecorder{}
	sched, db, clk := setupScheduler(t, config.SweepConfig{
		Enabled:        false,
		RunInterval:    time.Minute,
		BatchSize:      10,
		StaleThreshold: time.Hour,
	}, billing)

	seedStale(t, db, snowflake.ID(1), clk.Now().Add(-48*time.Hour))

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Empty(t, billing.reconciled())
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	billing := &reconcileRecorder{err: billingdomain.ErrProviderUnavailable}
	sched, db, clk := setupScheduler(t, config.SweepConfig{
		Enabled:        true,
		RunInterval:    time.Minute,
		BatchSize:      10,
		StaleThreshold: time.Hour,
	}, billing)

	seedStale(t, db, snowflake.ID(1), clk.Now().Add(-3*time.Hour))
	seedStale(t, db, snowflake.ID(2), clk.Now().Add(-2*time.Hour))

	// One broken account never stalls the rest of the batch.
	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, billing.reconciled(), 2)
}
