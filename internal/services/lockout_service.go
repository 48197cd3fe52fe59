package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/BradenHooton/subdivisync/internal/background"
	"github.com/BradenHooton/subdivisync/internal/models"
	pkgauth "github.com/BradenHooton/subdivisync/pkg/auth"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

// User-facing failed-login messages
const (
	MsgInvalidCredentials = "Invalid credentials."
	MsgAccountLockedNow   = "Account locked. Too many failed login attempts. Please contact admin or customer service."
	MsgAccountIsLocked    = "Account is locked. Please contact admin or customer service."
)

// UserDirectory resolves an email to the owning identity
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
}

// SecurityRecordStore persists lockout state, one record per identity
type SecurityRecordStore interface {
	FindOne(ctx context.Context, userID string) (*models.SecurityRecord, error)
	FindByAnyUserID(ctx context.Context, keys []string) (*models.SecurityRecord, error)
	Create(ctx context.Context, rec *models.SecurityRecord) (*models.SecurityRecord, error)
	Save(ctx context.Context, rec *models.SecurityRecord) (*models.SecurityRecord, error)
	UpdateMany(ctx context.Context, filter models.SecurityRecordFilter, patch models.SecurityRecordPatch) (int64, error)
	Count(ctx context.Context, filter models.SecurityRecordFilter) (int, error)
	Find(ctx context.Context, filter models.SecurityRecordFilter, limit, offset int) ([]*models.SecurityRecord, error)
}

// NotificationQueue accepts emails for asynchronous delivery. Enqueue must not block.
type NotificationQueue interface {
	Enqueue(msg models.EmailMessage, onDelivered background.DeliveryHook) bool
}

// LockoutPolicy is the failure threshold and unlock token lifetime
type LockoutPolicy struct {
	MaxFailedAttempts int
	UnlockTokenTTL    time.Duration
}

// DefaultLockoutPolicy locks after 3 failures with a 7 day unlock link
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxFailedAttempts: 3, UnlockTokenTTL: 7 * 24 * time.Hour}
}

// FailedAttemptResult is reported back to the login form
type FailedAttemptResult struct {
	Locked            bool
	FailedCount       int
	AttemptsRemaining *int // nil for exempt (admin) identities
	Message           string
}

// AccountStatus is the lockout view of one identity
type AccountStatus struct {
	AccountLocked     bool
	FailedLoginCount  int
	AttemptsRemaining *int
	LockedAt          *time.Time
	LastLoginAttempt  *time.Time
	IsNewUser         bool
}

// StatusQuery selects an identity by email or by user id
type StatusQuery struct {
	Email  string
	UserID string
}

// LockoutService counts failed logins and locks accounts at the threshold
type LockoutService struct {
	users       UserDirectory
	store       SecurityRecordStore
	queue       NotificationQueue
	composer    *EmailComposer
	policy      LockoutPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
	newToken    func() (string, error)
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(
	users UserDirectory,
	store SecurityRecordStore,
	queue NotificationQueue,
	composer *EmailComposer,
	policy LockoutPolicy,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *LockoutService {
	return &LockoutService{
		users:       users,
		store:       store,
		queue:       queue,
		composer:    composer,
		policy:      policy,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
		newToken:    pkgauth.GenerateUnlockToken,
	}
}

// SetClock replaces the wall clock (tests)
func (s *LockoutService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordFailedAttempt registers one failed login for email. Unknown emails
// and admins get a generic result and nothing is persisted.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, email, ipAddress string) (*FailedAttemptResult, error) {
	return s.recordFailedAttempt(ctx, email, ipAddress, true)
}

func (s *LockoutService) recordFailedAttempt(ctx context.Context, email, ipAddress string, retryOnConflict bool) (*FailedAttemptResult, error) {
	email, err := normalizeEmailInput(email)
	if err != nil {
		return nil, err
	}

	identity, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &FailedAttemptResult{AttemptsRemaining: intPtr(0), Message: MsgInvalidCredentials}, nil
		}
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	if identity.IsAdmin() {
		s.logger.Info("failed login for admin identity, lockout exempt", slog.String("user_id", identity.ID))
		return &FailedAttemptResult{Message: MsgInvalidCredentials}, nil
	}

	rec, err := loadRecord(ctx, s.store, identity)
	isNew := errors.Is(err, models.ErrNotFound)
	if err != nil && !isNew {
		return nil, fmt.Errorf("failed to load security record: %w", err)
	}
	if isNew {
		rec = models.NewSecurityRecord(identity.ID)
	}

	if rec.AccountLocked {
		return &FailedAttemptResult{
			Locked:            true,
			FailedCount:       rec.FailedLoginCount,
			AttemptsRemaining: intPtr(0),
			Message:           MsgAccountIsLocked,
		}, nil
	}

	now := s.now()
	rec.FailedLoginCount++
	rec.LastLoginAttempt = &now
	if ipAddress != "" {
		rec.IPAddress = &ipAddress
	}

	locked := rec.FailedLoginCount >= s.policy.MaxFailedAttempts
	if locked {
		token, err := s.newToken()
		if err != nil {
			return nil, err
		}
		rec.Lock(now, models.AutomaticLockoutReason(s.policy.MaxFailedAttempts), nil, token, now.Add(s.policy.UnlockTokenTTL))
		rec.LockEmailSent = false
	}

	if isNew {
		rec, err = s.store.Create(ctx, rec)
		// A concurrent attempt created the record first; count against it
		if errors.Is(err, models.ErrConflict) && retryOnConflict {
			return s.recordFailedAttempt(ctx, email, ipAddress, false)
		}
	} else {
		rec, err = s.store.Save(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist security record: %w", err)
	}

	s.auditLogger.LogFailedAttempt(identity.ID, ipAddress, rec.FailedLoginCount, locked)

	if locked {
		s.sendLockNotification(identity, rec)
		return &FailedAttemptResult{
			Locked:            true,
			FailedCount:       rec.FailedLoginCount,
			AttemptsRemaining: intPtr(0),
			Message:           MsgAccountLockedNow,
		}, nil
	}

	remaining := s.policy.MaxFailedAttempts - rec.FailedLoginCount
	if remaining < 0 {
		remaining = 0
	}
	return &FailedAttemptResult{
		FailedCount:       rec.FailedLoginCount,
		AttemptsRemaining: intPtr(remaining),
		Message:           fmt.Sprintf("Invalid credentials. %d attempt(s) remaining.", remaining),
	}, nil
}

// sendLockNotification queues the lock email; lockEmailSent is flipped only
// once SES accepted it.
func (s *LockoutService) sendLockNotification(identity *models.Identity, rec *models.SecurityRecord) {
	msg, err := s.composer.AccountLocked(identity.Email, identity.Name, *rec.UnlockToken, s.policy.MaxFailedAttempts, *rec.UnlockTokenExpires)
	if err != nil {
		s.logger.Error("failed to render lock notification", slog.Any("error", err))
		return
	}

	userID := rec.UserID
	s.queue.Enqueue(msg, func(ctx context.Context) error {
		sent := true
		_, err := s.store.UpdateMany(ctx,
			models.SecurityRecordFilter{UserIDs: []string{userID}},
			models.SecurityRecordPatch{LockEmailSent: &sent})
		return err
	})
}

// GetStatus reports the lockout state for the login form. Unknown emails and
// identities without history read as new users.
func (s *LockoutService) GetStatus(ctx context.Context, q StatusQuery) (*AccountStatus, error) {
	var rec *models.SecurityRecord
	var err error

	switch {
	case q.Email != "":
		email, verr := normalizeEmailInput(q.Email)
		if verr != nil {
			return nil, verr
		}
		identity, ierr := s.users.FindByEmail(ctx, email)
		if errors.Is(ierr, models.ErrNotFound) {
			return newUserStatus(), nil
		}
		if ierr != nil {
			return nil, fmt.Errorf("failed to resolve identity: %w", ierr)
		}
		rec, err = loadRecord(ctx, s.store, identity)
	case q.UserID != "":
		rec, err = s.store.FindOne(ctx, strings.TrimSpace(q.UserID))
	default:
		return nil, fmt.Errorf("%w: email or userId is required", models.ErrValidation)
	}

	if errors.Is(err, models.ErrNotFound) {
		return newUserStatus(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load security record: %w", err)
	}

	status := &AccountStatus{
		AccountLocked:    rec.AccountLocked,
		FailedLoginCount: rec.FailedLoginCount,
		LockedAt:         rec.LockedAt,
		LastLoginAttempt: rec.LastLoginAttempt,
	}
	if rec.AccountLocked {
		status.AttemptsRemaining = intPtr(0)
	} else if rec.FailedLoginCount > 0 {
		remaining := s.policy.MaxFailedAttempts - rec.FailedLoginCount
		if remaining < 0 {
			remaining = 0
		}
		status.AttemptsRemaining = intPtr(remaining)
	}
	return status, nil
}

// RecordSuccessfulLogin stamps lastSuccessfulLogin and clears the failure
// count on an existing unlocked record. It never creates a record.
func (s *LockoutService) RecordSuccessfulLogin(ctx context.Context, userID string) error {
	rec, err := s.store.FindOne(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load security record: %w", err)
	}
	if rec.AccountLocked {
		return models.ErrAccountLocked
	}

	now := s.now()
	rec.LastSuccessfulLogin = &now
	rec.FailedLoginCount = 0
	if _, err := s.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist security record: %w", err)
	}
	return nil
}

func newUserStatus() *AccountStatus {
	return &AccountStatus{IsNewUser: true}
}

// identityKeys lists the user_id values a record for identity may be stored
// under: the canonical id first, then legacy email-based keys.
func identityKeys(identity *models.Identity) []string {
	keys := []string{identity.ID}
	if identity.Email != "" && identity.Email != identity.ID {
		keys = append(keys, identity.Email, "email:"+identity.Email)
	}
	return keys
}

func loadRecord(ctx context.Context, store SecurityRecordStore, identity *models.Identity) (*models.SecurityRecord, error) {
	return store.FindByAnyUserID(ctx, identityKeys(identity))
}

func normalizeEmailInput(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", models.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", models.ErrValidation)
	}
	return email, nil
}

func intPtr(v int) *int {
	return &v
}
