// Package service implements the billing engine: projection reads, the
// quantity reconciler, the self-healing resolver and checkout.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/config"
	pkgdb "github.com/smallshift/rosterly/pkg/db"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	cfg   config.BillingConfig

	repo     billingdomain.Repository
	provider billingdomain.ProviderClient
	counter  billingdomain.OwnedResourceCounter
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.BillingConfig

	Repo     billingdomain.Repository
	Provider billingdomain.ProviderClient
	Counter  billingdomain.OwnedResourceCounter
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Cfg,

		repo:     p.Repo,
		provider: p.Provider,
		counter:  p.Counter,
	}
}

// GetBillingStatus implements domain.Service.
func (s *Service) GetBillingStatus(ctx context.Context, ownerID snowflake.ID) (billingdomain.BillingStatus, error) {
	account, err := s.resolveAccount(ctx, ownerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrAccountNotFound) {
			return billingdomain.BillingStatus{Status: billingdomain.StatusNone}, nil
		}
		if errors.Is(err, billingdomain.ErrProviderUnavailable) {
			// Unknown state, not inactive state: report none without
			// persisting anything.
			s.log.Warn("billing status unavailable", zap.String("owner_id", ownerID.String()), zap.Error(err))
			return billingdomain.BillingStatus{Status: billingdomain.StatusNone}, nil
		}
		return billingdomain.BillingStatus{}, err
	}
	return statusView(account), nil
}

// Gate implements domain.Service. Admitting one more owned resource needs
// capacity for ownedCount+1 seats.
func (s *Service) Gate(ctx context.Context, ownerID snowflake.ID) (billingdomain.Decision, error) {
	if !s.cfg.Enabled {
		return billingdomain.Decision{Allowed: true, Reason: billingdomain.ReasonActiveSubscriptionSufficient}, nil
	}

	count, err := s.counter.CountOwned(ctx, ownerID)
	if err != nil {
		return billingdomain.Decision{}, err
	}

	account, err := s.resolveAccount(ctx, ownerID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrAccountNotFound) || errors.Is(err, billingdomain.ErrProviderUnavailable) {
			// Fail closed: no resolvable subscription means deny, not crash.
			return billingdomain.Gate(billingdomain.BillingAccount{OwnerID: ownerID, Status: billingdomain.StatusNone}, count+1, false), nil
		}
		return billingdomain.Decision{}, err
	}
	return billingdomain.Gate(*account, count+1, false), nil
}

// ApplySnapshot implements domain.Service. It is the idempotent write path
// shared by the webhook processor and the reconciler: writing the same
// snapshot twice leaves an identical record.
func (s *Service) ApplySnapshot(ctx context.Context, ownerID snowflake.ID, snap billingdomain.SubscriptionSnapshot) (*billingdomain.BillingAccount, error) {
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = s.clock.Now()
	}

	account, err := s.repo.UpsertFromSnapshot(ctx, s.db, ownerID, snap)
	if err != nil {
		return nil, err
	}

	if snap.CustomerID != "" {
		if err := s.repo.SaveCustomerMapping(ctx, s.db, snap.CustomerID, ownerID); err != nil && !pkgdb.IsMissingTableErr(err) {
			s.log.Warn("customer mapping write failed",
				zap.String("owner_id", ownerID.String()),
				zap.String("customer_id", snap.CustomerID),
				zap.Error(err))
		}
	}
	return account, nil
}

// StartCheckout implements domain.Service.
func (s *Service) StartCheckout(ctx context.Context, req billingdomain.StartCheckoutRequest) (billingdomain.StartCheckoutResponse, error) {
	if !s.cfg.Enabled {
		return billingdomain.StartCheckoutResponse{}, billingdomain.ErrBillingDisabled
	}
	if req.DesiredQuantity < 1 {
		return billingdomain.StartCheckoutResponse{}, billingdomain.ErrInvalidQuantity
	}

	params := billingdomain.CheckoutParams{
		OwnerID:         req.OwnerID.String(),
		CustomerEmail:   req.OwnerEmail,
		PriceID:         s.cfg.SeatPriceID,
		DesiredQuantity: req.DesiredQuantity,
		SuccessURL:      s.cfg.CheckoutSuccessURL,
		CancelURL:       s.cfg.CheckoutCancelURL,
	}
	if account, err := s.repo.FindByOwner(ctx, s.db, req.OwnerID); err == nil {
		params.CustomerID = account.ProviderCustomerID
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return billingdomain.StartCheckoutResponse{}, err
	}

	now := s.clock.Now()
	intent := &billingdomain.CheckoutIntent{
		ID:                s.genID.Generate(),
		OwnerID:           req.OwnerID,
		ProviderSessionID: sess.SessionID,
		DesiredQuantity:   req.DesiredQuantity,
		Status:            billingdomain.CheckoutPending,
		CheckoutURL:       sess.URL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertCheckoutIntent(ctx, s.db, intent); err != nil && !pkgdb.IsMissingTableErr(err) {
		s.log.Warn("checkout intent write failed",
			zap.String("owner_id", req.OwnerID.String()),
			zap.String("session_id", sess.SessionID),
			zap.Error(err))
	}
	if sess.CustomerID != "" {
		if err := s.repo.SaveCustomerMapping(ctx, s.db, sess.CustomerID, req.OwnerID); err != nil && !pkgdb.IsMissingTableErr(err) {
			s.log.Warn("customer mapping write failed",
				zap.String("owner_id", req.OwnerID.String()),
				zap.Error(err))
		}
	}

	return billingdomain.StartCheckoutResponse{SessionID: sess.SessionID, CheckoutURL: sess.URL}, nil
}

func statusView(account *billingdomain.BillingAccount) billingdomain.BillingStatus {
	view := billingdomain.BillingStatus{
		Status:            account.Status,
		Quantity:          account.Quantity,
		CancelAtPeriodEnd: account.CancelAtPeriodEnd,
	}
	if account.CurrentPeriodEnd != nil {
		end := account.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		view.CurrentPeriodEnd = &end
	}
	return view
}
