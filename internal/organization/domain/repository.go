package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrganizationListItem struct {
	ID        snowflake.ID
	Name      string
	Role      string
	CreatedAt time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	AddMember(ctx context.Context, member OrganizationMember) error
	MemberRole(ctx context.Context, orgID, userID snowflake.ID) (string, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)

	// CountOwned and ListOwnedIDs derive the owned-resource set: the
	// organizations where userID holds one of OwningRoles.
	CountOwned(ctx context.Context, userID snowflake.ID) (int64, error)
	ListOwnedIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)

	// DeleteCascade removes the organization and everything under it:
	// shifts, schedules, invites, memberships, then the row itself.
	DeleteCascade(ctx context.Context, orgID snowflake.ID) error
}
