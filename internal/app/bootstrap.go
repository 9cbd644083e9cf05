// Package app is the composition root: bootstrap wires config, store,
// registry, engine, jobs and the HTTP surface together and stays
// orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"drover.io/drover/internal/api/handlers"
	"drover.io/drover/internal/command"
	"drover.io/drover/internal/config"
	"drover.io/drover/internal/engine"
	"drover.io/drover/internal/fulfillment"
	"drover.io/drover/internal/infrastructure"
	"drover.io/drover/internal/jobs"
	"drover.io/drover/internal/pkg/logger"
	"drover.io/drover/internal/pkg/worker"
	"drover.io/drover/internal/store"
)

// Application holds the composed application dependencies.
type Application struct {
	Config *config.Config
	Router *gin.Engine
	Engine *engine.Builder
	Store  store.Store

	DB    *infrastructure.DatabaseClients
	Pools *worker.Pools
	redis *redis.Client
}

// Bootstrap initializes all dependencies. Registry and command-mux assembly
// happen here, before anything serves traffic, so duplicate registrations
// fail the boot instead of a request.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		ActionPoolSize:  cfg.Worker.ActionPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	app := &Application{Config: cfg, Pools: pools}

	var st store.Store
	switch cfg.Database.Driver {
	case "postgres":
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			pools.Shutdown()
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				pools.Shutdown()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		app.DB = db
		st = db.Store
	case "memory":
		logger.Warn("using in-memory store; all state is lost on restart")
		st = store.NewMemoryStore()
	default:
		pools.Shutdown()
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	app.Store = st

	reg, err := fulfillment.BuildRegistry(fulfillment.LogPorts())
	if err != nil {
		app.closePartial()
		return nil, fmt.Errorf("build handler registry: %w", err)
	}

	dispatcher := engine.NewDispatcher(pools.Actions, cfg.Engine.ActionTimeout)
	eng := engine.NewBuilder(reg, st, dispatcher, fulfillment.DeriveStatus)

	var cache *store.SnapshotCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, snapshot cache disabled", zap.Error(err))
			_ = rdb.Close()
		} else {
			app.redis = rdb
			cache = store.NewSnapshotCache(rdb, cfg.Redis.SnapshotTTL)
			eng.WithSnapshotCache(cache)
			logger.Info("snapshot cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}
	app.Engine = eng

	mux := command.NewMux()
	if err := fulfillment.RegisterCommands(mux); err != nil {
		app.closePartial()
		return nil, fmt.Errorf("register commands: %w", err)
	}
	cmdHandler := command.NewHandler(mux, st, eng)

	var enqueuer jobs.ReplayEnqueuer
	if app.DB != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, jobs.NewReplayWorker(eng))
		river.AddWorker(workers, jobs.NewFailedActionSweepWorker(st, riverEnqueuer{app}, pools.General))
		if err := app.DB.InitRiverClient(workers, cfg.River); err != nil {
			app.closePartial()
			return nil, fmt.Errorf("init river: %w", err)
		}
		enqueuer = app.DB.RiverClient
	}

	server := handlers.NewServer(handlers.ServerDeps{
		Commands: cmdHandler,
		Engine:   eng,
		Store:    st,
		Cache:    cache,
		Enqueuer: enqueuer,
	})
	app.Router = newRouter(cfg, server)

	return app, nil
}

// riverEnqueuer defers the RiverClient lookup until job insertion time: the
// sweep worker is constructed before the client exists.
type riverEnqueuer struct {
	app *Application
}

func (r riverEnqueuer) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	return r.app.DB.RiverClient.Insert(ctx, args, opts)
}

func (a *Application) closePartial() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
}
