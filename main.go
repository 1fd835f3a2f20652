package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/auth"
	"github.com/qaforge/qagen-engine/pkg/config"
	"github.com/qaforge/qagen-engine/pkg/database"
	"github.com/qaforge/qagen-engine/pkg/handlers"
	"github.com/qaforge/qagen-engine/pkg/logging"
	"github.com/qaforge/qagen-engine/pkg/progress"
	"github.com/qaforge/qagen-engine/pkg/repositories"
	"github.com/qaforge/qagen-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host))

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		logger.Info("Statistics cache enabled", zap.String("redis_host", cfg.Redis.Host))
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	authSessionRepo := repositories.NewAuthSessionRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	qaRepo := repositories.NewQARepository(db)

	// Services
	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	authService := services.NewAuthService(userRepo, authSessionRepo, issuer, &cfg.Auth, logger)
	sessionService := services.NewSessionService(sessionRepo, qaRepo, redisClient, &cfg.Redis, logger)
	ingestService := services.NewIngestService(qaRepo, sessionService, &cfg.Ingest, logger)
	tracker := progress.NewTracker(cfg.Progress.ProgressWindow(), cfg.Progress.MaxSamples, logger)

	// Periodic cleanup of expired refresh-token sessions.
	go sweepAuthSessions(ctx, authService, logger)

	// Handlers
	authMiddleware := auth.NewMiddleware(issuer, logger)
	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(authService, logger).RegisterRoutes(mux)
	handlers.NewUsersHandler(userRepo, authService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewSessionHandler(sessionService, ingestService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewProgressHandler(tracker, sessionService, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting qagen-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// runMigrations applies pending migrations over a short-lived database/sql
// connection; the pgx pool is opened afterwards.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return database.RunMigrations(sqlDB, cfg.MigrationsPath, logger)
}

// sweepAuthSessions periodically removes expired refresh-token sessions.
func sweepAuthSessions(ctx context.Context, authService services.AuthService, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := authService.SweepExpired(ctx); err != nil {
				logger.Warn("Failed to sweep expired auth sessions", zap.Error(err))
			}
		}
	}
}
