package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/school-admin-api/api/swagger"
	"github.com/noah-isme/school-admin-api/internal/auth"
	"github.com/noah-isme/school-admin-api/internal/handler"
	"github.com/noah-isme/school-admin-api/internal/repository"
	"github.com/noah-isme/school-admin-api/internal/service"
	"github.com/noah-isme/school-admin-api/pkg/cache"
	"github.com/noah-isme/school-admin-api/pkg/config"
	"github.com/noah-isme/school-admin-api/pkg/database"
	"github.com/noah-isme/school-admin-api/pkg/dataservice"
	"github.com/noah-isme/school-admin-api/pkg/logger"
)

// @title School Admin API
// @version 1.0.0
// @description Reporting and access control for school administration.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	dsOpts := []dataservice.Option{dataservice.WithObserver(metrics), dataservice.WithLogger(logr.Named("dataservice"))}
	var notifier *dataservice.Notifier
	if cfg.ChangeWatcher.Enabled {
		notifier = dataservice.NewNotifier(dataservice.NotifierConfig{
			DSN:          cfg.Database.DSN(),
			Channel:      cfg.ChangeWatcher.Channel,
			MinReconnect: cfg.ChangeWatcher.MinReconnectInterval,
			MaxReconnect: cfg.ChangeWatcher.MaxReconnectInterval,
			Logger:       logr.Named("notifier"),
		})
		dsOpts = append(dsOpts, dataservice.WithNotifier(notifier))
	}
	ds := dataservice.New(db, dsOpts...)

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}
	cacheEnabled := rdb != nil

	reportCache := service.NewCacheService(
		repository.NewCacheRepository(rdb, "school-admin:", logr),
		metrics, cfg.Reports.CacheTTL, logr, cacheEnabled && cfg.Reports.CacheEnabled,
	)
	permissionCache := service.NewCacheService(
		repository.NewCacheRepository(rdb, "school-admin:", logr),
		metrics, cfg.Permissions.CacheTTL, logr, cacheEnabled,
	)

	validate := validator.New()
	roleSvc := service.NewRolePermissionService(repository.NewRoleRepository(ds), permissionCache, cfg.Permissions.CacheTTL, logr.Named("rbac"))
	userSvc := service.NewUserService(repository.NewUserRepository(ds), roleSvc, validate, logr.Named("users"))
	reportSvc := service.NewReportService(repository.NewReportRepository(ds), reportCache, metrics, logr.Named("reports"), service.ReportServiceConfig{CacheTTL: cfg.Reports.CacheTTL})
	exportSvc := service.NewExportService(reportSvc, service.ExportConfig{MaxRows: cfg.Reports.ExportMaxRows}, logr.Named("export"))
	sessions := service.NewSessionRegistry(ctx, reportSvc, metrics, logr.Named("report-session"))
	defer sessions.Close()

	if notifier != nil {
		watcher := service.NewChangeWatcher(ds, reportSvc, roleSvc, metrics, logr.Named("change-watcher"))
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("subscribe to changes: %w", err)
		}
		defer watcher.Stop()
		if err := notifier.Start(ctx); err != nil {
			logr.Warn("change listener not started, caches rely on TTL", zap.Error(err))
		} else {
			defer notifier.Stop()
		}
	}

	resolver := auth.NewResolver(auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience), roleSvc, logr.Named("auth"))

	checks := map[string]handler.Pinger{"postgres": db}
	if rdb != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	router := newRouter(cfg, logr, metrics, resolver, routeHandlers{
		reports: handler.NewReportHandler(reportSvc, exportSvc, sessions),
		users:   handler.NewUserHandler(userSvc, roleSvc),
		roles:   handler.NewRoleHandler(roleSvc),
		auth:    handler.NewAuthHandler(sessions, roleSvc, logr.Named("auth")),
		metrics: handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

