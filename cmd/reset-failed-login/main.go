package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/subdivisync/internal/config"
	"github.com/BradenHooton/subdivisync/internal/database"
	"github.com/BradenHooton/subdivisync/internal/repositories"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

// reset-failed-login clears failure counts and locks for one account or for
// every account that needs it. It is an operator tool and is not exposed
// over HTTP.
func main() {
	email := flag.String("email", "", "Email of the account to reset")
	all := flag.Bool("all", false, "Reset every locked or failing account")
	flag.Parse()

	if (*email == "") == !*all {
		fmt.Fprintln(os.Stderr, "usage: reset-failed-login -email <address> | -all")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	userRepo := repositories.NewUserRepository(db)
	securityRepo := repositories.NewSecurityRecordRepository(db)

	// Reset never sends mail, so no notification queue is wired
	svc := services.NewAdminLockService(
		userRepo,
		userRepo,
		securityRepo,
		nil,
		services.NewEmailComposer(cfg.Email.AppBaseURL, cfg.Email.FromAddress),
		services.LockoutPolicy{MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts, UnlockTokenTTL: cfg.Lockout.UnlockTokenTTL},
		logger,
		pkglogger.NewAuditLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := svc.ResetFailedLogin(ctx, *email)
	if err != nil {
		logger.Error("reset failed", slog.Any("error", err))
		os.Exit(1)
	}

	if *all {
		fmt.Printf("reset %d account(s)\n", n)
		return
	}
	if n == 0 {
		fmt.Printf("%s was already clear\n", *email)
		return
	}
	fmt.Printf("reset %s\n", *email)
}
