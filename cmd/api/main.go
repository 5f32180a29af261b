package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/globetrotter/auth-service/internal/api/http"
	"github.com/globetrotter/auth-service/internal/api/http/handlers"
	"github.com/globetrotter/auth-service/internal/auth"
	"github.com/globetrotter/auth-service/internal/config"
	"github.com/globetrotter/auth-service/internal/events"
	"github.com/globetrotter/auth-service/internal/observability"
	"github.com/globetrotter/auth-service/internal/persistence"
	"github.com/globetrotter/auth-service/internal/repository"
	"github.com/globetrotter/auth-service/internal/service"
	"github.com/globetrotter/auth-service/internal/worker"
)

const notificationQueueSize = 256

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var (
		userRepo  repository.UserRepository
		resetRepo repository.PasswordResetRepository
	)
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		userRepo = repository.NewUserRepository(pg.PoolHandle())
		resetRepo = repository.NewPasswordResetRepository(pg.PoolHandle())
	} else {
		userRepo = repository.NewMemoryUserRepository()
		resetRepo = repository.NewMemoryPasswordResetRepository()
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var denylist auth.Denylist
	if cfg.Auth.RevocationEnabled {
		denylist = auth.NewRedisDenylist(redis.Client)
		logger.Info("credential revocation enabled")
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()
	notifications := worker.NewNotificationWorker(dispatcher, logger, notificationQueueSize)
	notifications.Start(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:  userRepo,
		ResetRepo: resetRepo,
		Tokens:    tokens,
		Denylist:  denylist,
		Events:    notifications,
		Logger:    logger,
	})

	middlewareOpts := []auth.MiddlewareOption{
		auth.WithRefreshGrace(cfg.Auth.RefreshGrace),
		auth.WithLogger(logger),
	}
	if denylist != nil {
		middlewareOpts = append(middlewareOpts, auth.WithDenylist(denylist))
	}
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo, middlewareOpts...)

	app := httptransport.NewApp(httptransport.ServerDeps{
		AppName:        cfg.App.Name,
		Logger:         logger,
		Metrics:        observability.NewMetrics("globetrotter_auth"),
		AuthService:    authService,
		AuthMiddleware: authMiddleware,
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, cfg.Auth.RevocationEnabled),
		RateLimit:      httptransport.NewRateLimiter(cfg.RateLimit.GeneralRPM, cfg.RateLimit.AuthRPM),
		Timeout:        cfg.App.RequestTimeout(),
		AllowedOrigins: cfg.App.CORSAllowedOrigins,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	cancel()
	notifications.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
