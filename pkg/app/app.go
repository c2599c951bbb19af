// Package app wires configuration, storage, the engine, the worker pool and
// the HTTP router into one runnable service.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arnavshah/shift-optimizer/pkg/auth"
	"github.com/arnavshah/shift-optimizer/pkg/config"
	"github.com/arnavshah/shift-optimizer/pkg/database"
	"github.com/arnavshah/shift-optimizer/pkg/handlers"
	"github.com/arnavshah/shift-optimizer/pkg/orchestrator"
	"github.com/arnavshah/shift-optimizer/pkg/repository"
	"github.com/arnavshah/shift-optimizer/pkg/validator"
	"github.com/arnavshah/shift-optimizer/pkg/worker"
)

type App struct {
	DB     *gorm.DB
	Router *gin.Engine
	Pool   *worker.Pool
	logger *zap.Logger
}

// New connects the database, seeds the admin user and builds the router.
// The worker pool is created but not started.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := auth.EnsureAdminExists(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure admin user: %w", err)
	}

	store := repository.NewGormStore(db)
	orch := orchestrator.New(store, cfg.Solver, logger)
	pool := worker.NewPool(orch, cfg.Worker.Count, cfg.Worker.QueueSize, logger)

	h := &handlers.Handler{
		DB:           db,
		Store:        store,
		Orchestrator: orch,
		Validator:    validator.NewService(store, logger),
		Dispatcher:   pool,
		Auth:         auth.New(cfg.Auth),
		Logger:       logger,
	}

	if cfg.GinMode == "" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(cfg.GinMode)
	}

	return &App{DB: db, Router: handlers.NewRouter(h), Pool: pool, logger: logger}, nil
}

// Close stops the workers and releases the database.
func (a *App) Close(ctx context.Context) error {
	if err := a.Pool.Stop(ctx); err != nil {
		a.logger.Warn("worker pool did not stop cleanly", zap.Error(err))
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
