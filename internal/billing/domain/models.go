// Package domain contains the billing projection models and the contracts
// between the webhook processor, the reconciler and the provider adapter.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus mirrors the provider's subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusNone              SubscriptionStatus = "none"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
)

// Paid reports whether gating treats the status as a paying subscription.
func (s SubscriptionStatus) Paid() bool {
	return s == StatusActive || s == StatusTrialing
}

// ParseSubscriptionStatus maps a provider status string onto the local enum.
// Unknown strings collapse to StatusNone so a provider-side addition never
// grants access it did not grant before.
func ParseSubscriptionStatus(raw string) SubscriptionStatus {
	switch SubscriptionStatus(raw) {
	case StatusIncomplete, StatusIncompleteExpired, StatusTrialing, StatusActive,
		StatusPastDue, StatusCanceled, StatusUnpaid, StatusPaused:
		return SubscriptionStatus(raw)
	default:
		return StatusNone
	}
}

// BillingAccount is the per-owner projection of provider subscription state.
// It is created lazily, mutated by webhook handlers and the reconciler, and
// never hard-deleted: cancellation is a status transition, not a row removal.
type BillingAccount struct {
	OwnerID                snowflake.ID       `gorm:"primaryKey;column:owner_id"`
	ProviderCustomerID     string             `gorm:"type:text;index"`
	ProviderSubscriptionID *string            `gorm:"type:text;index"`
	ProviderItemID         *string            `gorm:"type:text"`
	ProviderPriceID        *string            `gorm:"type:text"`
	Status                 SubscriptionStatus `gorm:"type:text;not null;default:none"`
	Quantity               int64              `gorm:"not null;default:0"`
	CancelAtPeriodEnd      bool               `gorm:"not null;default:false"`
	CurrentPeriodEnd       *time.Time         `gorm:""`
	Metadata               datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingAccount) TableName() string { return "billing_accounts" }

// HasSubscription reports whether the projection points at a live provider
// subscription object. Quantity is meaningful only when this holds.
func (a BillingAccount) HasSubscription() bool {
	return a.ProviderSubscriptionID != nil && *a.ProviderSubscriptionID != ""
}

// SubscriptionSnapshot is provider truth as of FetchedAt, produced by the
// provider adapter. Handlers always write from a snapshot, never from event
// payloads, which is what makes replayed and reordered deliveries harmless.
type SubscriptionSnapshot struct {
	SubscriptionID    string
	CustomerID        string
	ItemID            string
	PriceID           string
	Status            SubscriptionStatus
	Quantity          int64
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	Created           time.Time
	OwnerMetadata     string
	FetchedAt         time.Time
}

// CheckoutIntentStatus tracks a pending provider checkout session.
type CheckoutIntentStatus string

const (
	CheckoutPending   CheckoutIntentStatus = "pending"
	CheckoutCompleted CheckoutIntentStatus = "completed"
	CheckoutExpired   CheckoutIntentStatus = "expired"
)

// CheckoutIntent records an in-flight checkout session so the completed
// webhook can be tied back to the owner that initiated it.
type CheckoutIntent struct {
	ID                snowflake.ID         `gorm:"primaryKey"`
	OwnerID           snowflake.ID         `gorm:"not null;index"`
	ProviderSessionID string               `gorm:"type:text;uniqueIndex"`
	DesiredQuantity   int64                `gorm:"not null"`
	Status            CheckoutIntentStatus `gorm:"type:text;not null;default:pending"`
	CheckoutURL       string               `gorm:"type:text"`
	CreatedAt         time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CheckoutIntent) TableName() string { return "checkout_intents" }

// BillingCustomer maps a provider customer handle back to the owning
// identity. Webhook attribution falls back to this table when subscription
// metadata is missing.
type BillingCustomer struct {
	ProviderCustomerID string       `gorm:"primaryKey;type:text"`
	OwnerID            snowflake.ID `gorm:"not null;index"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingCustomer) TableName() string { return "billing_customers" }

// OrgSubscription is the legacy denormalized view kept for older readers.
// It is written by the same upsert path as BillingAccount and is never read
// back as a source of truth.
type OrgSubscription struct {
	OwnerID                snowflake.ID       `gorm:"primaryKey;column:owner_id"`
	ProviderSubscriptionID *string            `gorm:"type:text"`
	Status                 SubscriptionStatus `gorm:"type:text;not null;default:none"`
	Quantity               int64              `gorm:"not null;default:0"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrgSubscription) TableName() string { return "org_subscriptions" }
