package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/estisync/internal/client/assets"
	"github.com/dmitrijs2005/estisync/internal/client/config"
	"github.com/dmitrijs2005/estisync/internal/client/engine"
	"github.com/dmitrijs2005/estisync/internal/client/services"
	"github.com/dmitrijs2005/estisync/internal/client/store"
	"github.com/dmitrijs2005/estisync/internal/logging"
	"github.com/dmitrijs2005/estisync/internal/timex"
)

// App holds the wired client for the lifetime of one command.
type App struct {
	config    *config.Config
	logger    logging.Logger
	store     *store.Store
	engine    *engine.Engine
	scheduler *engine.Scheduler
	registry  *prometheus.Registry

	mutations services.MutationService
	sync      services.SyncService

	closers []io.Closer
}

// NewApp opens every dependency named by c. On error, whatever was already
// opened is closed.
func NewApp(ctx context.Context, c *config.Config) (app *App, err error) {
	a := &App{config: c}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	logger, lc, err := logging.New(logging.Options{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		File:       c.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, lc)

	a.store, err = store.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	a.closers = append(a.closers, a.store)

	rem, rc, err := openRemote(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("error connecting to remote: %w", err)
	}
	a.closers = append(a.closers, rc)

	objects, err := openBlobs(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("error initializing object storage: %w", err)
	}

	cache, err := assets.NewOSCache(c.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("error initializing photo cache: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.engine, err = engine.New(engine.Deps{
		Store:   a.store,
		Remote:  rem,
		Assets:  assets.NewReconciler(cache, objects, logger),
		Session: sessionProvider(c),
		Logger:  logger,
		Clock:   timex.UTC,
		Metrics: engine.NewMetrics(a.registry),
	}, engine.Options{MaxPushAttempts: c.MaxPushAttempts})
	if err != nil {
		return nil, err
	}

	a.scheduler = engine.NewScheduler(a.engine, c.SyncInterval, logger)
	a.mutations = services.NewMutationService(a.store, a.scheduler, timex.UTC, logger)
	a.sync = services.NewSyncService(a.engine, a.scheduler)
	return a, nil
}

// Close releases everything NewApp opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
