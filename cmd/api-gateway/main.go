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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sibudis-api/api/swagger"
	"github.com/noah-isme/sibudis-api/internal/handler"
	"github.com/noah-isme/sibudis-api/internal/repository"
	"github.com/noah-isme/sibudis-api/internal/service"
	"github.com/noah-isme/sibudis-api/pkg/cache"
	"github.com/noah-isme/sibudis-api/pkg/config"
	"github.com/noah-isme/sibudis-api/pkg/database"
	"github.com/noah-isme/sibudis-api/pkg/jobs"
	"github.com/noah-isme/sibudis-api/pkg/logger"
	"github.com/noah-isme/sibudis-api/pkg/mail"
	"github.com/noah-isme/sibudis-api/pkg/realtime"
	"github.com/noah-isme/sibudis-api/pkg/storage"
)

// @title SIBUDIS API
// @version 1.0.0
// @description School savings ledger for administrators, teachers and parents
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

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	validate := validator.New()
	loc := cfg.Ledger.Location()

	var redisClient *redis.Client
	if cfg.Dashboard.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, dashboard caching disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
		}
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	ledgerRepo := repository.NewTransactionRepository(db)
	schedules := repository.NewSavingsScheduleRepository(db)

	mailQueue := jobs.NewQueue("mail", mail.JobHandler(mail.NewSender(mail.Config{
		Provider:    cfg.Mail.Provider,
		APIKey:      cfg.Mail.SendGridAPIKey,
		FromName:    cfg.Mail.FromName,
		FromAddress: cfg.Mail.FromAddress,
	}, logr)), jobs.QueueConfig{Workers: cfg.Mail.WorkerCount, MaxRetries: cfg.Mail.WorkerRetries, Logger: logr})
	mailQueue.Start(ctx)
	defer mailQueue.Stop()

	identity := service.NewIdentityService(students, logr)
	authSvc := service.NewAuthService(service.AuthServiceParams{
		Users:     users,
		Students:  students,
		Identity:  identity,
		Mail:      mailQueue,
		Validator: validate,
		Logger:    logr,
		Config: service.AuthConfig{
			AccessTokenSecret:  cfg.JWT.Secret,
			AccessTokenExpiry:  cfg.JWT.Expiration,
			RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
			PasswordResetTTL:   cfg.JWT.PasswordResetTTL,
			ResetPasswordURL:   cfg.Mail.ResetPasswordURL,
			Issuer:             "sibudis-api",
		},
	})
	userSvc := service.NewUserService(users, students, cacheSvc, validate, logr)
	studentSvc := service.NewStudentService(students, users, cacheSvc, validate, logr)
	importSvc := service.NewStudentImportService(students, users, cacheSvc, metrics, logr)
	ledgerSvc := service.NewLedgerService(service.LedgerServiceParams{
		Students:  students,
		Schedules: schedules,
		Store:     ledgerRepo,
		Audit:     users,
		Cache:     cacheSvc,
		Metrics:   metrics,
		Logger:    logr,
		Config: service.LedgerConfig{
			MinAmount:     cfg.Ledger.MinAmount,
			AmountStep:    cfg.Ledger.AmountStep,
			MaxNoteLength: cfg.Ledger.MaxNoteLength,
			Location:      loc,
		},
	})
	scheduleSvc := service.NewSavingsScheduleService(schedules, students, cacheSvc, validate, cfg.Ledger.BehindThreshold, logr)
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Ledger:    ledgerSvc,
		Schedules: scheduleSvc,
		Cache:     cacheSvc,
		Logger:    logr,
		Config:    service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL, Location: loc},
	})

	exportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return fmt.Errorf("init export storage: %w", err)
	}
	recapSvc := service.NewRecapService(service.RecapServiceParams{
		Ledger:  ledgerSvc,
		Storage: exportStore,
		Signer:  storage.NewSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL),
		Logger:  logr,
		Config:  service.RecapConfig{Location: loc, APIPrefix: cfg.APIPrefix},
	})
	go runExportCleanup(ctx, recapSvc, cfg.Reports.CleanupInterval, logr)

	hub := realtime.NewHub(realtime.HubConfig{Logger: logr, OnSubscriberChange: metrics.SubscriberDelta})
	defer hub.Close()
	if cfg.Realtime.Enabled {
		go func() {
			err := realtime.ListenPostgres(ctx, realtime.ListenerConfig{
				DSN:          cfg.Database.DSN(),
				Channel:      cfg.Realtime.Channel,
				MinReconnect: cfg.Realtime.MinReconnect,
				MaxReconnect: cfg.Realtime.MaxReconnect,
			}, hub, logr)
			if err != nil {
				logr.Error("realtime listener stopped", zap.Error(err))
			}
		}()
	}

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := handler.NewRouter(handler.RouterDeps{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Metrics:        metrics,
		Tokens:         authSvc,
		Audit:          users,
		Auth:           handler.NewAuthHandler(authSvc),
		Users:          handler.NewUserHandler(userSvc),
		Students:       handler.NewStudentHandler(studentSvc, importSvc),
		Ledger:         handler.NewTransactionHandler(ledgerSvc, loc),
		Schedules:      handler.NewSavingsScheduleHandler(scheduleSvc),
		Dashboard:      handler.NewDashboardHandler(dashboardSvc),
		Recap:          handler.NewRecapHandler(recapSvc),
		Events:         handler.NewEventsHandler(hub, 0),
		System:         handler.NewMetricsHandler(metrics, checks),
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
	// Closing the hub first ends open SSE streams so Shutdown does not wait on them.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExportCleanup(ctx context.Context, recap *service.RecapService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := recap.CleanupExports(ctx)
			if err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logr.Info("expired exports removed", zap.Int("count", removed))
			}
		}
	}
}
