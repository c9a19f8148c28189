package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(NewSource),
	fx.Provide(func(src *Source) (Config, error) {
		return src.Config()
	}),
)
