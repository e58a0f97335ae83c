package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
)

const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleScheduler = "scheduler" // builds rosters, no billing authority
	RoleEmployee  = "employee"  // sees own shifts only
)

// OwningRoles are the membership roles that make a user billable for the
// organization. The seat quantity on the owner's subscription tracks the
// count of organizations held under these roles.
var OwningRoles = []string{RoleOwner, RoleAdmin}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*CreateOrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	// Delete runs the cascading delete and then billing reconciliation. The
	// two are not transactional across the provider boundary: a completed
	// deletion is reported as successful even when the reconciliation call
	// fails, with the failure surfaced on the response.
	Delete(ctx context.Context, userID snowflake.ID, orgID string) (*DeleteOrganizationResponse, error)
}

type CreateOrganizationRequest struct {
	Name         string
	TimezoneName string
}

type OrganizationResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	TimezoneName string `json:"timezone_name"`
}

type CreateOrganizationResponse struct {
	OrganizationResponse
	billingdomain.SyncResult
}

type DeleteOrganizationResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
	billingdomain.SyncResult
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidTimezone     = errors.New("invalid_timezone")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrOrganizationGone    = errors.New("organization_not_found")
	ErrForbidden           = errors.New("forbidden")
)
