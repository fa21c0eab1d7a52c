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

	_ "github.com/noah-isme/course-api/api/swagger"
	"github.com/noah-isme/course-api/internal/handler"
	"github.com/noah-isme/course-api/internal/repository"
	"github.com/noah-isme/course-api/internal/service"
	"github.com/noah-isme/course-api/pkg/cache"
	"github.com/noah-isme/course-api/pkg/config"
	"github.com/noah-isme/course-api/pkg/database"
	"github.com/noah-isme/course-api/pkg/jobs"
	"github.com/noah-isme/course-api/pkg/logger"
	"github.com/noah-isme/course-api/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

// @title Course API
// @version 1.0.0
// @description Groups and students with soft delete, capacity limits and photo uploads.
// @BasePath /api/v1
// @schemes http
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logr.Info("database schema up to date")
	}

	metrics := service.NewMetricsService()
	deps := map[string]handler.Pinger{"database": db}

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, list caching disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheRepo = repository.NewCacheRepository(client, "course")
			deps["redis"] = handler.PingFunc(cache.Ping(client))
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	files := storage.NewLocalStorage(cfg.Uploads.Dir)
	cleanup := jobs.NewQueue("photo-cleanup", service.NewPhotoCleanupHandler(files), jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	cleanup.Start(ctx)
	defer cleanup.Stop()

	validate := validator.New()
	groupRepo := repository.NewGroupRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	groupSvc := service.NewGroupService(groupRepo, cacheSvc, metrics, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, groupRepo, files, cleanup, cacheSvc, metrics, validate, logr, service.StudentServiceConfig{
		PublicPrefix:     cfg.Uploads.PublicPrefix,
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
	})
	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		AdminEmail:        cfg.Auth.AdminEmail,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
	})
	if cfg.Auth.Enabled && cfg.Auth.AdminPasswordHash == "" {
		logr.Warn("auth enabled without ADMIN_PASSWORD_HASH, every login will be rejected")
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		UploadsDir:     files.Dir(),
		UploadsPrefix:  cfg.Uploads.PublicPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableAuth:     cfg.Auth.Enabled,
		EnableDocs:     cfg.Env != config.EnvProduction,
	}, handler.Handlers{
		Auth:     handler.NewAuthHandler(authSvc),
		Groups:   handler.NewGroupHandler(groupSvc),
		Students: handler.NewStudentHandler(studentSvc),
		Metrics:  handler.NewMetricsHandler(metrics, deps),
	}, authSvc, metrics, logr)

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

	logr.Info("shutting down", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
