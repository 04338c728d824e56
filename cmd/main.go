package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"warranty_auth/internal/auth"
	"warranty_auth/internal/config"
	"warranty_auth/internal/http_server/router"
	"warranty_auth/internal/lib/jwt"
	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/notifier"
	"warranty_auth/internal/oauth"
	"warranty_auth/internal/rabbitmq"
	"warranty_auth/internal/storage/postgres"
	"warranty_auth/internal/storage/redis"
	"warranty_auth/internal/storage/sqlite"

	"github.com/joho/godotenv"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type store interface {
	auth.UserStorage
	auth.TokenStorage
}

func main() {
	// .env нужен только локально
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting auth service", slog.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to init storage", slog.String("driver", cfg.Storage.Driver), sl.Err(err))
		os.Exit(1)
	}
	defer closeStorage()

	states, closeStates, err := openStateStore(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect redis", sl.Err(err))
		os.Exit(1)
	}
	defer closeStates()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer msgBroker.Close()

	issuer := jwt.New(cfg.Tokens.JWTSecret, cfg.Tokens.AccessTokenTTL, jwt.WithLeeway(cfg.Tokens.Leeway))

	authService := auth.New(
		log,
		storage,
		storage,
		issuer,
		notifier.New(msgBroker, cfg.OAuth.FrontendBase),
		auth.WithRefreshTTL(cfg.Tokens.RefreshTokenTTL),
		auth.WithResetTTL(cfg.Tokens.ResetTokenTTL),
		auth.WithLeeway(cfg.Tokens.Leeway),
		auth.WithRequireVerifiedEmail(!cfg.OAuth.AllowUnverifiedEmail),
	)

	handler := router.New(log, router.Deps{
		Auth:           authService,
		Tokens:         issuer,
		OAuth:          oauth.New(cfg.OAuth, &http.Client{Timeout: 10 * time.Second}),
		States:         states,
		StateTTL:       cfg.OAuth.StateTTL,
		FrontendBase:   cfg.OAuth.FrontendBase,
		AllowedOrigins: cfg.HTTPServer.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (store, func(), error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
		s, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

// * openStateStore без адреса Redis хранит state в памяти процесса
func openStateStore(ctx context.Context, cfg config.Redis) (oauth.StateStore, func(), error) {
	if cfg.Address == "" {
		return oauth.NewMemoryStateStore(), func() {}, nil
	}

	s, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	return s, s.Close, nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
