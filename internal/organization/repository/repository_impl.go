package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallshift/rosterly/internal/organization/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Create(&org).Error
}

func (r *repository) GetOrganization(ctx context.Context, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationGone
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) AddMember(ctx context.Context, member domain.OrganizationMember) error {
	return r.db.WithContext(ctx).Create(&member).Error
}

func (r *repository) MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error) {
	var member domain.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrForbidden
	}
	if err != nil {
		return "", err
	}
	return member.Role, nil
}

func (r *repository) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, m.role, o.created_at
		 FROM organizations o
		 JOIN organization_members m ON m.org_id = o.id
		 WHERE m.user_id = ?
		 ORDER BY o.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *repository) CountOwned(ctx context.Context, userID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM organization_members
		 WHERE user_id = ? AND role IN ?`,
		userID,
		domain.OwningRoles,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repository) ListOwnedIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Raw(
		`SELECT org_id
		 FROM organization_members
		 WHERE user_id = ? AND role IN ?
		 ORDER BY org_id ASC`,
		userID,
		domain.OwningRoles,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteCascade removes children before the parent so a mid-flight failure
// inside the surrounding transaction leaves nothing orphaned.
func (r *repository) DeleteCascade(ctx context.Context, orgID snowflake.ID) error {
	db := r.db.WithContext(ctx)

	if err := db.Where("org_id = ?", orgID).Delete(&domain.Shift{}).Error; err != nil {
		return err
	}
	if err := db.Where("org_id = ?", orgID).Delete(&domain.Schedule{}).Error; err != nil {
		return err
	}
	if err := db.Where("org_id = ?", orgID).Delete(&domain.OrganizationInvite{}).Error; err != nil {
		return err
	}
	if err := db.Where("org_id = ?", orgID).Delete(&domain.OrganizationMember{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", orgID).Delete(&domain.Organization{}).Error
}
