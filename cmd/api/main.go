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

	_ "github.com/dvlab/dvlab-api/api/swagger"
	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/repository"
	"github.com/dvlab/dvlab-api/internal/scheduler"
	"github.com/dvlab/dvlab-api/internal/service"
	"github.com/dvlab/dvlab-api/pkg/cache"
	"github.com/dvlab/dvlab-api/pkg/config"
	"github.com/dvlab/dvlab-api/pkg/database"
	"github.com/dvlab/dvlab-api/pkg/jobs"
	"github.com/dvlab/dvlab-api/pkg/logger"
	"github.com/dvlab/dvlab-api/pkg/security"
	"github.com/dvlab/dvlab-api/pkg/storage"
)

// @title dvlab API
// @version 1.0.0
// @description Weekly Google Calendar schedule view and gift wishlist
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.NewLocalStorage(cfg.Uploads.StorageDir, cfg.Uploads.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("prepare upload storage: %w", err)
	}

	tokens, err := tokenRepository(cfg, redisClient)
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()
	validate := validator.New()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	provider := google.NewClient(google.Config{
		ClientID:         cfg.Google.ClientID,
		ClientSecret:     cfg.Google.ClientSecret,
		APIKey:           cfg.Google.APIKey,
		RedirectURL:      cfg.Google.RedirectURL,
		Scopes:           cfg.Google.Scopes,
		DiscoveryDocURL:  cfg.Google.DiscoveryDocURL,
		OpenIDConfigURL:  cfg.Google.OpenIDConfigURL,
		CalendarEndpoint: cfg.Google.CalendarEndpoint,
		UserinfoEndpoint: cfg.Google.UserinfoEndpoint,
	}, google.NewLoader(httpClient, logr.Named("loader")), httpClient, logr.Named("google"))

	go func() {
		initCtx, cancel := context.WithTimeout(ctx, cfg.Google.InitTimeout)
		defer cancel()
		if err := provider.Initialize(initCtx); err != nil {
			logr.Warn("google client initialization failed, retrying on demand", zap.Error(err))
		}
	}()

	scheduleSvc := service.NewScheduleService(
		provider,
		tokens,
		security.NewStateSigner(cfg.Google.StateSecret, cfg.Google.ConsentTimeout),
		metrics,
		logr.Named("schedule"),
		service.ScheduleOptions{
			SessionTTL:   cfg.Schedule.SessionTTL,
			AlertVisible: cfg.Schedule.AlertVisible,
			AlertFade:    cfg.Schedule.AlertFade,
			InitTimeout:  cfg.Google.InitTimeout,
		},
	)

	authSvc := service.NewAuthService(provider, validate, logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		AdminEmails:       cfg.Wishlist.AdminEmails,
		SignInRedirectURL: cfg.Google.SignInRedirect,
	})

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Wishlist.CacheTTL, logr, cfg.Wishlist.CacheEnabled)

	uploadSvc := service.NewUploadService(store, service.UploadConfig{
		MaxFileSize:  cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Uploads.AllowedMIMEs,
	}, logr.Named("uploads"))

	cleanupQueue := jobs.NewQueue("image-cleanup", service.ImageCleanupHandler(uploadSvc), jobs.QueueConfig{
		Workers:    cfg.Uploads.CleanupWorkers,
		MaxRetries: 2,
		Logger:     logr,
	})
	cleanupQueue.Start(ctx)
	defer cleanupQueue.Stop()

	wishlistSvc := service.NewWishlistService(
		repository.NewWishlistRepository(db),
		uploadSvc,
		cacheSvc,
		cleanupQueue,
		metrics,
		validate,
		logr.Named("wishlist"),
		cfg.Wishlist.CacheTTL,
	)

	sched := scheduler.New(logr.Named("scheduler"), 5*time.Minute)
	if err := sched.Register("schedule-session-sweep", cfg.Schedule.SweepSpec, func(context.Context) error {
		if removed := scheduleSvc.Sweep(time.Now()); removed > 0 {
			logr.Info("expired schedule sessions removed", zap.Int("count", removed))
		}
		return nil
	}); err != nil {
		return err
	}
	if err := sched.Register("upload-orphan-cleanup", cfg.Uploads.CleanupSpec, func(taskCtx context.Context) error {
		removed, err := wishlistSvc.CleanupOrphanImages(taskCtx)
		if removed > 0 {
			logr.Info("orphaned images removed", zap.Int("count", removed))
		}
		return err
	}); err != nil {
		return err
	}
	sched.Start()

	router := newRouter(cfg, logr, routerDeps{
		metrics:  metrics,
		schedule: scheduleSvc,
		auth:     authSvc,
		wishlist: wishlistSvc,
		uploads:  uploadSvc,
		store:    store,
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
	sched.Stop(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

func tokenRepository(cfg *config.Config, client *redis.Client) (service.TokenRepository, error) {
	if client == nil {
		return repository.NewMemoryTokenRepository(), nil
	}
	cipher, err := security.NewTokenCipher(cfg.Google.TokenSecret, "")
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	return repository.NewRedisTokenRepository(client, cipher, cfg.Google.TokenTTL), nil
}
