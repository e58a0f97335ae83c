package organization

import (
	"go.uber.org/fx"

	"github.com/smallshift/rosterly/internal/organization/event"
	"github.com/smallshift/rosterly/internal/organization/repository"
	"github.com/smallshift/rosterly/internal/organization/service"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(event.NewOutboxPublisher),
	fx.Provide(NewOwnedResourceCounter),
	fx.Provide(service.NewService),
)
