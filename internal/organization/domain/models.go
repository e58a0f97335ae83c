// Package domain contains persistence models for the org service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant: one business running rosters.
type Organization struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	Slug         string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	TimezoneName string            `gorm:"column:timezone_name" json:"timezone_name"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// OrganizationMember represents membership of a user in an organization.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }

// OrganizationInvite tracks a pending invite to an organization.
type OrganizationInvite struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Email     string       `gorm:"type:text;not null" json:"email"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	Status    string       `gorm:"type:text;not null" json:"status"`
	InvitedBy snowflake.ID `gorm:"column:invited_by;not null;index" json:"invited_by"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OrganizationInvite) TableName() string { return "organization_invites" }

// Schedule is one published or draft week of rosters for an organization.
type Schedule struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	WeekStart time.Time    `gorm:"not null" json:"week_start"`
	Published bool         `gorm:"not null;default:false" json:"published"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Schedule) TableName() string { return "schedules" }

// Shift assigns a member to a block of time on a schedule.
type Shift struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID  `gorm:"not null;index" json:"org_id"`
	ScheduleID snowflake.ID  `gorm:"not null;index" json:"schedule_id"`
	UserID     *snowflake.ID `gorm:"index" json:"user_id,omitempty"`
	StartsAt   time.Time     `gorm:"not null" json:"starts_at"`
	EndsAt     time.Time     `gorm:"not null" json:"ends_at"`
	Position   string        `gorm:"type:text" json:"position"`
	Notes      string        `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Shift) TableName() string { return "shifts" }
