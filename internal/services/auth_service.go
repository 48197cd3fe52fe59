package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/subdivisync/internal/models"
	pkgauth "github.com/BradenHooton/subdivisync/pkg/auth"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

// UserRepository is the user table as seen by the session layer
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// AccessTokenIssuer mints session tokens
type AccessTokenIssuer interface {
	GenerateAccessToken(identity *models.Identity) (string, time.Time, error)
}

// LockoutTracker is the lockout surface the login flow depends on
type LockoutTracker interface {
	RecordFailedAttempt(ctx context.Context, email, ipAddress string) (*FailedAttemptResult, error)
	GetStatus(ctx context.Context, q StatusQuery) (*AccountStatus, error)
	RecordSuccessfulLogin(ctx context.Context, userID string) error
}

// LoginResult carries either an access token or, on failure, the lockout
// result to show on the login form.
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	User        *models.Identity
	Failure     *FailedAttemptResult
}

// AuthService handles login for portal users
type AuthService struct {
	repo        UserRepository
	lockout     LockoutTracker
	tokens      AccessTokenIssuer
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(repo UserRepository, lockout LockoutTracker, tokens AccessTokenIssuer, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		repo:        repo,
		lockout:     lockout,
		tokens:      tokens,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Login authenticates email/password. Locked accounts are refused before the
// password is checked; wrong passwords are counted by the lockout tracker.
// On failure the returned result carries Failure and err is
// models.ErrUnauthorized or models.ErrAccountLocked.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	if email = strings.ToLower(strings.TrimSpace(email)); email == "" || password == "" {
		return &LoginResult{Failure: &FailedAttemptResult{AttemptsRemaining: intPtr(0), Message: MsgInvalidCredentials}}, models.ErrUnauthorized
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.CompareDummyPassword(password)
			s.auditLogger.Log(pkglogger.AuditEvent{
				EventType:     pkglogger.EventLoginFailed,
				IPAddress:     ipAddress,
				FailureReason: "invalid_credentials",
			})
			return s.failed(ctx, email, ipAddress)
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	identity := user.Identity()

	if !identity.IsAdmin() {
		status, err := s.lockout.GetStatus(ctx, StatusQuery{Email: email})
		if err != nil {
			s.logger.Error("failed to read lockout status", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		if status.AccountLocked {
			s.auditLogger.Log(pkglogger.AuditEvent{
				EventType:     pkglogger.EventLoginFailed,
				UserID:        user.ID,
				IPAddress:     ipAddress,
				FailureReason: "account_locked",
			})
			return &LoginResult{Failure: &FailedAttemptResult{
				Locked:            true,
				FailedCount:       status.FailedLoginCount,
				AttemptsRemaining: intPtr(0),
				Message:           MsgAccountIsLocked,
			}}, models.ErrAccountLocked
		}
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials", slog.String("user_id", user.ID))
		return s.failed(ctx, email, ipAddress)
	}

	if err := s.lockout.RecordSuccessfulLogin(ctx, user.ID); err != nil {
		if errors.Is(err, models.ErrAccountLocked) {
			// Locked between the status read and now
			return &LoginResult{Failure: &FailedAttemptResult{Locked: true, AttemptsRemaining: intPtr(0), Message: MsgAccountIsLocked}}, models.ErrAccountLocked
		}
		s.logger.Warn("failed to record successful login", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(identity)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.Log(pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSucceeded,
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &LoginResult{AccessToken: token, ExpiresAt: expiresAt, User: identity}, nil
}

func (s *AuthService) failed(ctx context.Context, email, ipAddress string) (*LoginResult, error) {
	result, err := s.lockout.RecordFailedAttempt(ctx, email, ipAddress)
	if err != nil {
		s.logger.Error("failed to record failed login", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if result.Locked {
		return &LoginResult{Failure: result}, models.ErrAccountLocked
	}
	return &LoginResult{Failure: result}, models.ErrUnauthorized
}

// EnsureAdmin provisions the bootstrap admin account if no user owns email yet
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("bootstrap admin password rejected: %w", err)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	user, err := s.repo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	s.logger.Info("bootstrap admin created", slog.String("user_id", user.ID))
	return nil
}
