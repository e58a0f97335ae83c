package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallshift/rosterly/internal/billing"
	"github.com/smallshift/rosterly/internal/clock"
	"github.com/smallshift/rosterly/internal/config"
	"github.com/smallshift/rosterly/internal/migration"
	"github.com/smallshift/rosterly/internal/observability"
	"github.com/smallshift/rosterly/internal/organization"
	"github.com/smallshift/rosterly/internal/scheduler"
	"github.com/smallshift/rosterly/internal/server"
	"github.com/smallshift/rosterly/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		billing.Module,
		organization.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
