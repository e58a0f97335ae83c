package organization

import (
	"context"

	"github.com/bwmarrin/snowflake"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	"github.com/smallshift/rosterly/internal/organization/domain"
)

// counter adapts the membership store to the billing engine's
// owned-resource collaborator.
type counter struct {
	repo domain.Repository
}

func NewOwnedResourceCounter(repo domain.Repository) billingdomain.OwnedResourceCounter {
	return &counter{repo: repo}
}

func (c *counter) CountOwned(ctx context.Context, ownerID snowflake.ID) (int64, error) {
	return c.repo.CountOwned(ctx, ownerID)
}
