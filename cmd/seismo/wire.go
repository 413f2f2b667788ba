//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/rewired-gh/seismo/internal/app"
)

// InitializeApp builds the service via Wire.
// Caller must call the cleanup when done.
func InitializeApp(ctx context.Context, path app.ConfigPath) (*app.App, func(), error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideStore,
		app.ProvidePolymarketClient,
		app.ProvideCache,
		app.ProvideTelegram,
		app.ProvideSnapshotBuilder,
		app.ProvideServiceAggregator,
		app.ProvideBaselines,
		app.ProvideAlerter,
		app.ProvideScheduler,
		app.ProvidePipeline,
		app.ProvideAPI,
		wire.Struct(new(app.App), "*"),
	)
	return nil, nil, nil
}
