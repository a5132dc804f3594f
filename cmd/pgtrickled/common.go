package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/config"
	"github.com/pgtrickle/pgtrickle/internal/logging"
	"github.com/pgtrickle/pgtrickle/internal/notify"
	"github.com/pgtrickle/pgtrickle/internal/refresh"
)

// deps bundles everything every subcommand but migrate needs: a
// connected pool, the process logger, and the repos/engine built on
// top of it. Constructing this in one place keeps serve.go and
// refresh.go from duplicating wiring order.
type deps struct {
	cfg     *config.Config
	logger  *zap.Logger
	pool    *pgxpool.Pool
	streams *catalog.StreamTableRepo
	depsRepo *catalog.DependencyRepo
	history *catalog.HistoryRepo
	sources *catalog.SourceCatalog
	engine  *refresh.Engine
}

func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(development)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	streams := catalog.NewStreamTableRepo(pool, cfg.CatalogSchema)
	depsRepo := catalog.NewDependencyRepo(pool, cfg.CatalogSchema)
	history := catalog.NewHistoryRepo(pool, cfg.CatalogSchema)
	sources := catalog.NewSourceCatalog(pool, []string{"public"})
	broadcaster := notify.NewBroadcaster(pool)

	engine := &refresh.Engine{
		Pool:                 pool,
		ChangesSchema:        cfg.ChangeBufferSchema,
		MaxChangeRatio:       cfg.DifferentialMaxChangeRatio,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		Streams:              streams,
		Deps:                 depsRepo,
		History:              history,
		Sources:              sources,
		Notify:               broadcaster,
	}

	return &deps{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		streams:  streams,
		depsRepo: depsRepo,
		history:  history,
		sources:  sources,
		engine:   engine,
	}, nil
}

func (d *deps) Close() {
	d.pool.Close()
	_ = d.logger.Sync()
}
