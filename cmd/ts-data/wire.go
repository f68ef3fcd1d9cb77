//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"ts-data/internal/app"
)

// InitializeApp builds App from a validated config via Wire.
// The returned cleanup closes the provider and the log file.
func InitializeApp(cfg *app.Config) (*App, func(), error) {
	wire.Build(
		app.ProvideLogger,
		app.ProvideHTTPClient,
		app.ProvideTokenProvider,
		app.ProvideFetcher,
		app.ProvideDataProvider,
		app.ProvideStorage,
		app.ProvideDownloader,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
