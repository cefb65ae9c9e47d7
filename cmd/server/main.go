package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"yetti-auth/internal/config"
	"yetti-auth/internal/database"
	apphttp "yetti-auth/internal/http"
	"yetti-auth/internal/logging"
	"yetti-auth/internal/metrics"
	"yetti-auth/internal/service"
	"yetti-auth/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := database.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer repos.Close()

	store, closeStore, err := buildSessionStore(ctx, cfg, repos, logger)
	if err != nil {
		logger.Fatalf("setup session store: %v", err)
	}
	defer closeStore()

	userService := service.NewUserService(repos.Users, service.UserOptions{
		PasswordMinLength: cfg.Auth.PasswordMinLength,
		BcryptCost:        cfg.Auth.BcryptCost,
	})
	authService := service.NewAuthService(repos.Users, store, cfg.Auth.SecretKey, cfg.SessionTTL())

	cleaner := session.NewCleaner(session.CleanerConfig{
		Interval: cfg.CleanupInterval(),
		Logger:   logger,
	}, store)
	cleaner.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(apphttp.Options{
		Users:             userService,
		Auth:              authService,
		Metrics:           metrics.New(),
		Logger:            logger,
		SessionCookieName: cfg.Session.CookieName,
		SessionTTL:        cfg.SessionTTL(),
		SecureCookies:     cfg.Server.SecureCookies,
		TrustedOrigins:    cfg.TrustedOrigins(),
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	cleaner.Shutdown()

	logger.Info("bye")
}

func buildSessionStore(ctx context.Context, cfg config.Config, repos *database.Repositories, logger *logrus.Logger) (session.Store, func(), error) {
	switch cfg.Session.Engine {
	case config.EngineDB:
		logger.Info("using database session engine")
		return session.NewDBStore(repos.Sessions), func() {}, nil
	case config.EngineCache:
		client, err := session.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("using redis session engine at %s (db %d)", cfg.Redis.Addr, cfg.Redis.DB)
		return session.NewRedisStore(client), func() { client.Close() }, nil
	case config.EngineSignedCookies:
		logger.Info("using signed cookie session engine")
		return session.NewSignedCookieStore(cfg.Auth.SecretKey), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session engine %q", cfg.Session.Engine)
	}
}
