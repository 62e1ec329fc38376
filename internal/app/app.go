// Package app ties the assembled pieces together and owns the shutdown
// ordering: drain HTTP first, then background tasks, then observability.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/lektoria/auth-service/internal/config"
	"github.com/lektoria/auth-service/internal/health"
	"github.com/lektoria/auth-service/internal/observability"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	DB            *gorm.DB
	Redis         *redis.Client
	Observability *observability.Runtime
	Readiness     *health.ProbeRunner

	stop func()
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, db *gorm.DB, rdb *redis.Client, runtime *observability.Runtime, readiness *health.ProbeRunner, stop func()) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		DB:            db,
		Redis:         rdb,
		Observability: runtime,
		Readiness:     readiness,
		stop:          stop,
	}
}

func (a *App) StopBackgroundTasks() {
	if a.stop != nil {
		a.stop()
	}
}

// Run serves until ctx is cancelled, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(drainCtx); err != nil {
		a.Logger.Error("http drain failed", "error", err)
	}
	<-errCh

	a.StopBackgroundTasks()

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", "error", err)
		}
	}
	if a.Observability != nil {
		obsCtx, obsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer obsCancel()
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			a.Logger.Warn("observability shutdown failed", "error", err)
		}
	}
	a.Logger.Info("shutdown complete")
	return nil
}
