package database

import (
	"go.uber.org/fx"
)

// Module wires the database with the model set the application persists.
// Models are supplied by the app so this package stays model-agnostic.
func Module(models ...any) fx.Option {
	return fx.Options(
		fx.Provide(func() *ModelsOption {
			return WithModels(models...)
		}),
		fx.Provide(ProvideDatabase),
	)
}
