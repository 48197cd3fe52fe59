package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BradenHooton/subdivisync/internal/models"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

// SubmitUnlockRequestInput is a homeowner justification for unlocking
type SubmitUnlockRequestInput struct {
	Email  string
	Name   string
	Reason string
	Token  string
}

// UnlockRequestStatusView tells the unlock page which screen to render
type UnlockRequestStatusView struct {
	AccountLocked       bool
	HasUnlockRequest    bool
	UnlockRequestStatus models.UnlockRequestStatus
	TokenValid          bool
	LockedAt            *time.Time
}

// UnlockRequestService accepts token-gated unlock requests from homeowners
type UnlockRequestService struct {
	users       UserDirectory
	store       SecurityRecordStore
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewUnlockRequestService creates a new UnlockRequestService
func NewUnlockRequestService(users UserDirectory, store SecurityRecordStore, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *UnlockRequestService {
	return &UnlockRequestService{
		users:       users,
		store:       store,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock replaces the wall clock (tests)
func (s *UnlockRequestService) SetClock(now func() time.Time) {
	s.now = now
}

// SubmitRequest stores the justification as the single active request,
// replacing any earlier one.
func (s *UnlockRequestService) SubmitRequest(ctx context.Context, in SubmitUnlockRequestInput) error {
	email, err := normalizeEmailInput(in.Email)
	if err != nil {
		return err
	}
	reason := strings.TrimSpace(in.Reason)
	if err := ValidateUnlockReason(reason); err != nil {
		return err
	}
	if strings.TrimSpace(in.Token) == "" {
		return fmt.Errorf("%w: token is required", models.ErrValidation)
	}

	rec, identity, err := s.lockedRecord(ctx, email)
	if err != nil {
		return err
	}

	if err := s.checkToken(rec, in.Token); err != nil {
		return err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = identity.Name
	}
	rec.UnlockRequest = &models.UnlockRequest{
		Email:       email,
		Name:        name,
		Reason:      reason,
		SubmittedAt: s.now(),
		Status:      models.UnlockRequestPending,
	}

	if _, err := s.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist unlock request: %w", err)
	}

	s.auditLogger.LogAccountAction(pkglogger.EventUnlockRequestSubmit, rec.UserID, "", nil)
	return nil
}

// CheckStatus validates the link the homeowner followed. An account with no
// record or no lock reads as unlocked rather than as an error.
func (s *UnlockRequestService) CheckStatus(ctx context.Context, email, token string) (*UnlockRequestStatusView, error) {
	email, err := normalizeEmailInput(email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", models.ErrValidation)
	}

	identity, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	rec, err := loadRecord(ctx, s.store, identity)
	if errors.Is(err, models.ErrNotFound) {
		return &UnlockRequestStatusView{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load security record: %w", err)
	}
	if !rec.AccountLocked {
		return &UnlockRequestStatusView{}, nil
	}

	if err := s.checkToken(rec, token); err != nil {
		return nil, err
	}

	view := &UnlockRequestStatusView{
		AccountLocked: true,
		TokenValid:    true,
		LockedAt:      rec.LockedAt,
	}
	if rec.UnlockRequest != nil {
		view.HasUnlockRequest = true
		view.UnlockRequestStatus = rec.UnlockRequest.Status
	}
	return view, nil
}

func (s *UnlockRequestService) lockedRecord(ctx context.Context, email string) (*models.SecurityRecord, *models.Identity, error) {
	identity, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	rec, err := loadRecord(ctx, s.store, identity)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrNoSecurityRecord
		}
		return nil, nil, fmt.Errorf("failed to load security record: %w", err)
	}

	if !rec.AccountLocked {
		return nil, nil, models.ErrInvalidState
	}
	return rec, identity, nil
}

func (s *UnlockRequestService) checkToken(rec *models.SecurityRecord, token string) error {
	if !rec.TokenMatches(token) {
		s.auditLogger.Log(pkglogger.AuditEvent{
			EventType:     pkglogger.EventUnlockTokenRejected,
			UserID:        rec.UserID,
			FailureReason: "token_mismatch",
			Metadata:      map[string]string{"token": pkglogger.MaskToken(token)},
		})
		return models.ErrInvalidUnlockToken
	}
	if rec.TokenExpired(s.now()) {
		s.auditLogger.Log(pkglogger.AuditEvent{
			EventType:     pkglogger.EventUnlockTokenRejected,
			UserID:        rec.UserID,
			FailureReason: "token_expired",
		})
		return models.ErrUnlockTokenExpired
	}
	return nil
}

// ValidateUnlockReason applies the reason policy: at least 20 words and at
// most 1000 characters.
func ValidateUnlockReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", models.ErrValidation)
	}
	if words := len(strings.Fields(reason)); words < models.MinUnlockReasonWords {
		return fmt.Errorf("%w: reason must contain at least %d words (got %d)", models.ErrValidation, models.MinUnlockReasonWords, words)
	}
	if utf8.RuneCountInString(reason) > models.MaxUnlockReasonLength {
		return fmt.Errorf("%w: reason must be at most %d characters", models.ErrValidation, models.MaxUnlockReasonLength)
	}
	return nil
}
