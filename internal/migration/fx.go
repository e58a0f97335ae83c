package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallshift/rosterly/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Embedded migrations target postgres; test databases migrate
			// through gorm's AutoMigrate instead.
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
