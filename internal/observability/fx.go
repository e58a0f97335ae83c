// Package observability wires logging and metrics into the application graph.
package observability

import (
	"go.uber.org/fx"

	"github.com/smallshift/rosterly/internal/config"
	"github.com/smallshift/rosterly/internal/observability/logger"
)

var Module = fx.Module("observability",
	fx.Provide(func(cfg config.Config) logger.Config {
		return logger.Config{
			ServiceName:         cfg.AppName,
			Environment:         cfg.Environment,
			Version:             cfg.AppVersion,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			IncludeCaller:       true,
			IncludeStackOnError: true,
		}
	}),
	fx.Provide(logger.New),
)
