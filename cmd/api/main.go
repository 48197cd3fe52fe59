package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/background"
	"github.com/BradenHooton/subdivisync/internal/config"
	"github.com/BradenHooton/subdivisync/internal/database"
	"github.com/BradenHooton/subdivisync/internal/handlers"
	middlewareCustom "github.com/BradenHooton/subdivisync/internal/middleware"
	"github.com/BradenHooton/subdivisync/internal/repositories"
	"github.com/BradenHooton/subdivisync/internal/routes"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	securityRepo := repositories.NewSecurityRecordRepository(db)

	// Email delivery runs on a background worker pool
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	notifier, err := services.NewSESNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	dispatcher := background.NewNotificationDispatcher(notifier, background.DispatcherConfig{
		Workers:     cfg.Notifications.Workers,
		QueueSize:   cfg.Notifications.QueueSize,
		SendTimeout: cfg.Notifications.SendTimeout,
	}, logger)
	dispatcher.Start()

	// Initialize services
	auditLogger := pkglogger.NewAuditLogger(logger)
	composer := services.NewEmailComposer(cfg.Email.AppBaseURL, cfg.Email.FromAddress)
	policy := services.LockoutPolicy{
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		UnlockTokenTTL:    cfg.Lockout.UnlockTokenTTL,
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)

	lockoutService := services.NewLockoutService(userRepo, securityRepo, dispatcher, composer, policy, logger, auditLogger)
	unlockRequestService := services.NewUnlockRequestService(userRepo, securityRepo, logger, auditLogger)
	adminLockService := services.NewAdminLockService(userRepo, userRepo, securityRepo, dispatcher, composer, policy, logger, auditLogger)
	authService := services.NewAuthService(userRepo, lockoutService, tokenManager, logger, auditLogger)

	// Retry lock emails that were dropped or rejected
	var sweeper *background.LockEmailSweeper
	if cfg.Notifications.RedeliveryInterval > 0 {
		sweeper = background.NewLockEmailSweeper(adminLockService, background.SweeperConfig{
			Interval:    cfg.Notifications.RedeliveryInterval,
			GracePeriod: cfg.Notifications.RedeliveryGrace,
		}, logger)
		go sweeper.Start(context.Background())
	}

	// Bootstrap first admin user if configured
	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, cfg.Auth.AdminName); err != nil {
			logger.Error("failed to ensure admin user", slog.Any("error", err))
		}
		cancel()
	} else {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
	}

	// Initialize handlers
	h := routes.Handlers{
		Auth:          handlers.NewAuthHandler(authService, ipConfig, timingDelay, logger),
		Lockout:       handlers.NewLockoutHandler(lockoutService, ipConfig, timingDelay, logger),
		UnlockRequest: handlers.NewUnlockRequestHandler(unlockRequestService, logger),
		Admin:         handlers.NewAdminHandler(adminLockService, logger),
	}

	publicLimit := middlewareCustom.DefaultAuthRateLimit(ipConfig)
	publicLimit.RequestsPerMinute = cfg.Auth.RateLimitPerMinute
	adminLimit := middlewareCustom.RateLimitConfig{RequestsPerMinute: 60, IPConfig: ipConfig}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, tokenManager, userRepo, publicLimit, adminLimit)
	router.Get("/health", handlers.Health(db))

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	if sweeper != nil {
		sweeper.Stop()
	}

	// Requests are done; let queued emails go out before the pool closes
	dispatcher.Stop()

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
