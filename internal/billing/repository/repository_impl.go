// Package repository persists the billing projection.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	pkgdb "github.com/smallshift/rosterly/pkg/db"
)

type repo struct{}

func Provide() billingdomain.Repository {
	return &repo{}
}

func (r *repo) FindByOwner(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*billingdomain.BillingAccount, error) {
	var account billingdomain.BillingAccount
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billingdomain.ErrAccountNotFound
	}
	if pkgdb.IsMissingTableErr(err) {
		// Incremental schema rollout: an absent table means no billing data,
		// not a hard failure.
		return nil, billingdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpsertFromSnapshot is the single write path for provider truth. The
// conflict clause keys on owner_id so two concurrent read-modify-write
// cycles cannot lose each other's update.
func (r *repo) UpsertFromSnapshot(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, snap billingdomain.SubscriptionSnapshot) (*billingdomain.BillingAccount, error) {
	account := accountFromSnapshot(ownerID, snap)

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"provider_subscription_id",
			"provider_item_id",
			"provider_price_id",
			"status",
			"quantity",
			"cancel_at_period_end",
			"current_period_end",
			"metadata",
			"updated_at",
		}),
	}).Create(account).Error
	if err != nil {
		return nil, err
	}

	if err := r.mirrorLegacy(ctx, db, account); err != nil && !pkgdb.IsMissingTableErr(err) {
		return nil, err
	}
	return account, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, status billingdomain.SubscriptionStatus) error {
	err := db.WithContext(ctx).
		Model(&billingdomain.BillingAccount{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return err
	}

	mirrorErr := db.WithContext(ctx).
		Model(&billingdomain.OrgSubscription{}).
		Where("owner_id = ?", ownerID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
	if mirrorErr != nil && !pkgdb.IsMissingTableErr(mirrorErr) {
		return mirrorErr
	}
	return nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]billingdomain.BillingAccount, error) {
	q := db.WithContext(ctx).
		Where("updated_at < ?", olderThan).
		Where("provider_subscription_id IS NOT NULL").
		Order("updated_at ASC").
		Limit(limit)
	if db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var accounts []billingdomain.BillingAccount
	if err := q.Find(&accounts).Error; err != nil {
		if pkgdb.IsMissingTableErr(err) {
			return nil, nil
		}
		return nil, err
	}
	return accounts, nil
}

func (r *repo) SaveCustomerMapping(ctx context.Context, db *gorm.DB, providerCustomerID string, ownerID snowflake.ID) error {
	mapping := billingdomain.BillingCustomer{
		ProviderCustomerID: providerCustomerID,
		OwnerID:            ownerID,
		CreatedAt:          time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id"}),
	}).Create(&mapping).Error
}

func (r *repo) FindOwnerByCustomer(ctx context.Context, db *gorm.DB, providerCustomerID string) (snowflake.ID, error) {
	var mapping billingdomain.BillingCustomer
	err := db.WithContext(ctx).
		Where("provider_customer_id = ?", providerCustomerID).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || pkgdb.IsMissingTableErr(err) {
		return 0, billingdomain.ErrOwnerUnresolved
	}
	if err != nil {
		return 0, err
	}
	return mapping.OwnerID, nil
}

func (r *repo) InsertCheckoutIntent(ctx context.Context, db *gorm.DB, intent *billingdomain.CheckoutIntent) error {
	return db.WithContext(ctx).Create(intent).Error
}

func (r *repo) CompleteCheckoutIntent(ctx context.Context, db *gorm.DB, providerSessionID string) error {
	err := db.WithContext(ctx).
		Model(&billingdomain.CheckoutIntent{}).
		Where("provider_session_id = ? AND status = ?", providerSessionID, billingdomain.CheckoutPending).
		Updates(map[string]any{
			"status":     billingdomain.CheckoutCompleted,
			"updated_at": time.Now().UTC(),
		}).Error
	if pkgdb.IsMissingTableErr(err) {
		return nil
	}
	return err
}

// mirrorLegacy writes the denormalized org_subscriptions view older readers
// still consume. It is write-only from here; nothing reads it as truth.
func (r *repo) mirrorLegacy(ctx context.Context, db *gorm.DB, account *billingdomain.BillingAccount) error {
	mirror := billingdomain.OrgSubscription{
		OwnerID:                account.OwnerID,
		ProviderSubscriptionID: account.ProviderSubscriptionID,
		Status:                 account.Status,
		Quantity:               account.Quantity,
		UpdatedAt:              account.UpdatedAt,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_subscription_id", "status", "quantity", "updated_at",
		}),
	}).Create(&mirror).Error
}

func accountFromSnapshot(ownerID snowflake.ID, snap billingdomain.SubscriptionSnapshot) *billingdomain.BillingAccount {
	account := &billingdomain.BillingAccount{
		OwnerID:            ownerID,
		ProviderCustomerID: snap.CustomerID,
		Status:             snap.Status,
		Quantity:           snap.Quantity,
		CancelAtPeriodEnd:  snap.CancelAtPeriodEnd,
		CurrentPeriodEnd:   snap.CurrentPeriodEnd,
		Metadata:           datatypes.JSONMap{},
		CreatedAt:          snap.FetchedAt,
		UpdatedAt:          snap.FetchedAt,
	}
	if snap.SubscriptionID != "" {
		account.ProviderSubscriptionID = &snap.SubscriptionID
	}
	if snap.ItemID != "" {
		account.ProviderItemID = &snap.ItemID
	}
	if snap.PriceID != "" {
		account.ProviderPriceID = &snap.PriceID
	}
	if snap.OwnerMetadata != "" {
		account.Metadata[OwnerMetadataColumn] = snap.OwnerMetadata
	}
	return account
}

// OwnerMetadataColumn names the metadata key preserved from the provider
// subscription for audit.
const OwnerMetadataColumn = "owner_id"
