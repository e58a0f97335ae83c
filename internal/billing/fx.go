package billing

import (
	"go.uber.org/fx"

	"github.com/smallshift/rosterly/internal/billing/provider/stripe"
	"github.com/smallshift/rosterly/internal/billing/repository"
	"github.com/smallshift/rosterly/internal/billing/service"
	"github.com/smallshift/rosterly/internal/billing/webhook"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.NewClient),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewProcessor),
)
