package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*BillingAccount, error)
	// UpsertFromSnapshot writes provider truth for ownerID as a single atomic
	// write keyed by owner_id, and mirrors it into the legacy view.
	UpsertFromSnapshot(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, snap SubscriptionSnapshot) (*BillingAccount, error)
	// UpdateStatus rewrites only the status column, leaving quantity intact.
	UpdateStatus(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, status SubscriptionStatus) error
	ListStale(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]BillingAccount, error)

	SaveCustomerMapping(ctx context.Context, db *gorm.DB, providerCustomerID string, ownerID snowflake.ID) error
	FindOwnerByCustomer(ctx context.Context, db *gorm.DB, providerCustomerID string) (snowflake.ID, error)

	InsertCheckoutIntent(ctx context.Context, db *gorm.DB, intent *CheckoutIntent) error
	CompleteCheckoutIntent(ctx context.Context, db *gorm.DB, providerSessionID string) error
}
