//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/rewired-gh/seismo/internal/app"
)

// InitializeBackfill builds the backfill via Wire.
// Caller must call the cleanup when done.
func InitializeBackfill(ctx context.Context, path app.ConfigPath) (*app.Backfill, func(), error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideStore,
		app.ProvidePolymarketClient,
		app.ProvideSnapshotBuilder,
		app.ProvideBarSink,
		app.ProvideAggregator,
		app.ProvideBaselines,
		app.ProvideBackfill,
	)
	return nil, nil, nil
}
