package config

import "go.uber.org/fx"

// Module provides the static config and the strategy params loader.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewParamsLoader,
		),
	)
}
