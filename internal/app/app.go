// Package app assembles the service from configuration and runs it.
package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismo/internal/api"
	"github.com/rewired-gh/seismo/internal/config"
	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/pipeline"
	"github.com/rewired-gh/seismo/internal/scheduler"
	"github.com/rewired-gh/seismo/internal/storage"
	"github.com/rewired-gh/seismo/internal/telegram"
)

// App holds the service dependencies built by Wire. API and Telegram may be
// nil.
type App struct {
	Config    *config.Config
	Store     storage.Store
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	API       *api.Server
	Telegram  *telegram.Client
}

// Run registers the jobs and runs the pipeline, the read API and the bot
// commands until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Pipeline.Register(a.Scheduler); err != nil {
		return err
	}
	logger.Info("registered jobs: %v", a.Scheduler.Jobs())

	if a.Telegram != nil {
		a.Telegram.SetTopSource(a.Store)
		a.Telegram.ListenForCommands(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Pipeline.Run(gctx, a.Scheduler) })
	if a.API != nil {
		g.Go(func() error { return a.API.Run(gctx) })
	}
	return g.Wait()
}
