// Package service implements organization lifecycle, including the billing
// gate on creation and the lifecycle coordinator on deletion.
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/organization/domain"
	"github.com/smallshift/rosterly/internal/organization/event"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock

	billing   billingdomain.Service
	publisher event.EventPublisher
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	GenID *snowflake.Node
	Clock clock.Clock

	Billing   billingdomain.Service
	Publisher event.EventPublisher
}

func NewService(p ServiceParam) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,

		billing:   p.Billing,
		publisher: p.Publisher,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.CreateOrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	timezoneName := strings.TrimSpace(req.TimezoneName)
	if timezoneName == "" {
		timezoneName = "UTC"
	}
	if _, err := time.LoadLocation(timezoneName); err != nil {
		return nil, domain.ErrInvalidTimezone
	}

	decision, err := s.billing.Gate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &billingdomain.GateDeniedError{Decision: decision}
	}

	now := s.clock.Now()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:           orgID,
		Name:         name,
		Slug:         slug.Make(name),
		TimezoneName: timezoneName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		return repo.AddMember(ctx, domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.OrganizationCreatedTopic, org, userID)
	sync := s.billing.AfterResourceChange(ctx, userID)

	return &domain.CreateOrganizationResponse{
		OrganizationResponse: domain.OrganizationResponse{
			ID:           orgID.String(),
			Name:         name,
			Slug:         org.Slug,
			TimezoneName: timezoneName,
		},
		SyncResult: sync,
	}, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	return &domain.OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Slug:         org.Slug,
		TimezoneName: org.TimezoneName,
	}, nil
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}

	return resp, nil
}

// Delete is the resource lifecycle coordinator: cascade inside one local
// transaction, then reconcile billing. The reconciliation result never
// rolls the deletion back.
func (s *service) Delete(ctx context.Context, userID snowflake.ID, id string) (*domain.DeleteOrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}

	role, err := s.repo.MemberRole(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if role != domain.RoleOwner {
		return nil, domain.ErrForbidden
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).DeleteCascade(ctx, orgID)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.OrganizationDeletedTopic, *org, userID)
	sync := s.billing.AfterResourceChange(ctx, userID)
	if !sync.QuantitySynced {
		s.log.Warn("organization deleted but billing not reconciled",
			zap.String("org_id", orgID.String()),
			zap.String("owner_id", userID.String()),
			zap.String("sync_error", sync.SyncError))
	}

	return &domain.DeleteOrganizationResponse{
		ID:         orgID.String(),
		Deleted:    true,
		SyncResult: sync,
	}, nil
}

func (s *service) emit(ctx context.Context, topic string, org domain.Organization, userID snowflake.ID) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"organization_id": org.ID.String(),
		"owner_user_id":   userID.String(),
		"name":            org.Name,
		"occurred_at":     s.clock.Now().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("failed to marshal organization event payload", zap.Error(err))
		return
	}

	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.log.Warn("failed to publish organization event", zap.String("topic", topic), zap.Error(err))
	}
}

func parseOrgID(id string) (snowflake.ID, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return 0, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}
