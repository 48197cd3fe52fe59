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
	pkgauth "github.com/BradenHooton/subdivisync/pkg/auth"
	pkglogger "github.com/BradenHooton/subdivisync/pkg/logger"
)

const (
	defaultLockedAccountsLimit = 20
	maxLockedAccountsLimit     = 100
)

// IdentityLookup resolves stored user ids back to identities for listings
type IdentityLookup interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]*models.Identity, error)
}

// PreviousLockState is the lock as it was before an admin unlock
type PreviousLockState struct {
	LockedAt         *time.Time `json:"lockedAt"`
	LockedBy         *string    `json:"lockedBy"`
	LockedReason     *string    `json:"lockedReason"`
	FailedLoginCount int        `json:"failedLoginCount"`
	OldUserID        string     `json:"oldUserId"`
}

// UnlockResult reports an admin unlock
type UnlockResult struct {
	Email           string            `json:"email"`
	CorrectedUserID string            `json:"correctedUserId"`
	UnlockedAt      time.Time         `json:"unlockedAt"`
	UnlockedBy      string            `json:"unlockedBy"`
	UnlockReason    string            `json:"unlockReason"`
	PreviousState   PreviousLockState `json:"previousState"`
	UserIDWasFixed  bool              `json:"userIdWasFixed"`
}

// ReviewUnlockRequestInput is an admin disposition of a pending request
type ReviewUnlockRequestInput struct {
	Email      string
	Decision   models.UnlockRequestStatus
	AdminNotes string
	AdminID    string
}

// ReviewResult reports the outcome of a review. Unlock is set for approvals.
type ReviewResult struct {
	Email    string                     `json:"email"`
	Decision models.UnlockRequestStatus `json:"decision"`
	Unlock   *UnlockResult              `json:"unlock,omitempty"`
}

// LockedAccount is one row of the admin locked-accounts listing
type LockedAccount struct {
	UserID           string                `json:"userId"`
	Email            string                `json:"email,omitempty"`
	Name             string                `json:"name,omitempty"`
	FailedLoginCount int                   `json:"failedLoginCount"`
	LockedAt         *time.Time            `json:"lockedAt"`
	LockedReason     *string               `json:"lockedReason"`
	LockEmailSent    bool                  `json:"lockEmailSent"`
	UnlockRequest    *models.UnlockRequest `json:"unlockRequest,omitempty"`
}

// LockedAccountsPage is a page of locked accounts
type LockedAccountsPage struct {
	Accounts   []LockedAccount `json:"accounts"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalCount int             `json:"totalCount"`
	TotalPages int             `json:"totalPages"`
}

// AdminLockService implements the administrative side of the lockout workflow.
// Callers are trusted to have verified the admin session.
type AdminLockService struct {
	users       UserDirectory
	identities  IdentityLookup
	store       SecurityRecordStore
	queue       NotificationQueue
	composer    *EmailComposer
	policy      LockoutPolicy
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
	newToken    func() (string, error)
}

// NewAdminLockService creates a new AdminLockService
func NewAdminLockService(
	users UserDirectory,
	identities IdentityLookup,
	store SecurityRecordStore,
	queue NotificationQueue,
	composer *EmailComposer,
	policy LockoutPolicy,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AdminLockService {
	return &AdminLockService{
		users:       users,
		identities:  identities,
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
func (s *AdminLockService) SetClock(now func() time.Time) {
	s.now = now
}

// UnlockByEmail clears the lock on the account owning email. A record stored
// under a legacy key is re-keyed to the resolved identity in the same write.
func (s *AdminLockService) UnlockByEmail(ctx context.Context, email, adminID, reason string) (*UnlockResult, error) {
	email, err := normalizeEmailInput(email)
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.DefaultAdminUnlockReason
	}
	if utf8.RuneCountInString(reason) > models.MaxLockReasonLength {
		return nil, fmt.Errorf("%w: reason must be at most %d characters", models.ErrValidation, models.MaxLockReasonLength)
	}

	rec, identity, err := s.findRecord(ctx, email)
	if err != nil {
		return nil, err
	}
	if !rec.AccountLocked {
		return nil, models.ErrInvalidState
	}

	previous := PreviousLockState{
		LockedAt:         rec.LockedAt,
		LockedBy:         rec.LockedBy,
		LockedReason:     rec.LockedReason,
		FailedLoginCount: rec.FailedLoginCount,
		OldUserID:        rec.UserID,
	}

	fixed := rec.UserID != identity.ID
	rec.UserID = identity.ID

	now := s.now()
	rec.Unlock(now, &adminID, reason)

	saved, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to persist unlock: %w", err)
	}

	if fixed {
		s.logger.Warn("security record re-keyed to resolved identity",
			slog.String("old_user_id", previous.OldUserID),
			slog.String("user_id", identity.ID))
		s.auditLogger.LogAccountAction(pkglogger.EventSecurityRecordRepair, identity.ID, adminID,
			map[string]string{"old_user_id": previous.OldUserID})
	}
	s.auditLogger.LogUnlock(identity.ID, adminID, reason, fixed)

	s.notify(func() (models.EmailMessage, error) {
		return s.composer.AccountUnlocked(identity.Email, identity.Name)
	})

	return &UnlockResult{
		Email:           email,
		CorrectedUserID: saved.UserID,
		UnlockedAt:      now,
		UnlockedBy:      adminID,
		UnlockReason:    reason,
		PreviousState:   previous,
		UserIDWasFixed:  fixed,
	}, nil
}

// RequestMoreInfo drops the current unlock request so the homeowner can
// resubmit, and emails them the unlock link. The lock stays in place. An
// expired or missing token is replaced so the emailed link works.
func (s *AdminLockService) RequestMoreInfo(ctx context.Context, email, userName, adminID string) error {
	email, err := normalizeEmailInput(email)
	if err != nil {
		return err
	}

	rec, identity, err := s.findRecord(ctx, email)
	if err != nil {
		return err
	}
	if !rec.AccountLocked {
		return models.ErrInvalidState
	}

	rec.UnlockRequest = nil
	if err := s.ensureFreshToken(rec); err != nil {
		return err
	}

	saved, err := s.store.Save(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to persist unlock request reset: %w", err)
	}

	s.auditLogger.LogAccountAction(pkglogger.EventUnlockEmailResent, saved.UserID, adminID, nil)
	s.sendMoreInfo(identity, userName, saved)
	return nil
}

// ReviewRequest records the admin decision on the pending unlock request.
// Approval unlocks the account; needs_more_info emails the resubmission link
// and leaves the request in place until the homeowner replaces it.
func (s *AdminLockService) ReviewRequest(ctx context.Context, in ReviewUnlockRequestInput) (*ReviewResult, error) {
	email, err := normalizeEmailInput(in.Email)
	if err != nil {
		return nil, err
	}

	switch in.Decision {
	case models.UnlockRequestApproved, models.UnlockRequestRejected, models.UnlockRequestNeedsMoreInfo:
	default:
		return nil, fmt.Errorf("%w: decision must be approved, rejected or needs_more_info", models.ErrValidation)
	}

	notes := strings.TrimSpace(in.AdminNotes)
	if utf8.RuneCountInString(notes) > models.MaxAdminNotesLength {
		return nil, fmt.Errorf("%w: adminNotes must be at most %d characters", models.ErrValidation, models.MaxAdminNotesLength)
	}

	rec, identity, err := s.findRecord(ctx, email)
	if err != nil {
		return nil, err
	}
	if !rec.AccountLocked || rec.UnlockRequest == nil {
		return nil, models.ErrInvalidState
	}

	result := &ReviewResult{Email: email, Decision: in.Decision}

	if in.Decision == models.UnlockRequestApproved {
		reason := notes
		if reason == "" {
			reason = "Unlock request approved by admin"
		}
		unlock, err := s.UnlockByEmail(ctx, email, in.AdminID, reason)
		if err != nil {
			return nil, err
		}
		result.Unlock = unlock
		s.auditLogger.LogAccountAction(pkglogger.EventUnlockRequestReview, unlock.CorrectedUserID, in.AdminID,
			map[string]string{"decision": string(in.Decision)})
		return result, nil
	}

	rec.UnlockRequest.Status = in.Decision
	rec.UnlockRequest.AdminNotes = notes
	if in.Decision == models.UnlockRequestNeedsMoreInfo {
		if err := s.ensureFreshToken(rec); err != nil {
			return nil, err
		}
	}

	saved, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to persist review: %w", err)
	}

	s.auditLogger.LogAccountAction(pkglogger.EventUnlockRequestReview, saved.UserID, in.AdminID,
		map[string]string{"decision": string(in.Decision)})

	if in.Decision == models.UnlockRequestNeedsMoreInfo {
		s.sendMoreInfo(identity, "", saved)
	}
	return result, nil
}

// ResetFailedLogin clears failure counts and locks. An empty email resets
// every record that needs it. Records already in the reset state are not
// touched, so repeating the call is a no-op.
func (s *AdminLockService) ResetFailedLogin(ctx context.Context, email string) (int64, error) {
	patch := models.ResetPatch(s.now())

	if strings.TrimSpace(email) == "" {
		n, err := s.store.UpdateMany(ctx, models.SecurityRecordFilter{NeedsReset: true}, patch)
		if err != nil {
			return 0, fmt.Errorf("failed to reset security records: %w", err)
		}
		s.auditLogger.LogAccountAction(pkglogger.EventFailedLoginReset, "", "",
			map[string]string{"scope": "all", "records": fmt.Sprint(n)})
		return n, nil
	}

	email, err := normalizeEmailInput(email)
	if err != nil {
		return 0, err
	}

	rec, _, err := s.findRecord(ctx, email)
	if err != nil {
		return 0, err
	}
	if !rec.NeedsReset() {
		return 0, nil
	}

	n, err := s.store.UpdateMany(ctx, models.SecurityRecordFilter{UserIDs: []string{rec.UserID}, NeedsReset: true}, patch)
	if err != nil {
		return 0, fmt.Errorf("failed to reset security record: %w", err)
	}
	s.auditLogger.LogAccountAction(pkglogger.EventFailedLoginReset, rec.UserID, "",
		map[string]string{"scope": "single"})
	return n, nil
}

// ListLockedAccounts pages through locked records, most recently locked first
func (s *AdminLockService) ListLockedAccounts(ctx context.Context, page, limit int) (*LockedAccountsPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLockedAccountsLimit
	}
	if limit > maxLockedAccountsLimit {
		limit = maxLockedAccountsLimit
	}

	locked := true
	filter := models.SecurityRecordFilter{AccountLocked: &locked}

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count locked accounts: %w", err)
	}

	records, err := s.store.Find(ctx, filter, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked accounts: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.UserID)
	}
	identities, err := s.identities.FindByIDs(ctx, ids)
	if err != nil {
		// Listing still works without names
		s.logger.Warn("failed to resolve identities for locked accounts", slog.Any("error", err))
		identities = map[string]*models.Identity{}
	}

	accounts := make([]LockedAccount, 0, len(records))
	for _, rec := range records {
		account := LockedAccount{
			UserID:           rec.UserID,
			FailedLoginCount: rec.FailedLoginCount,
			LockedAt:         rec.LockedAt,
			LockedReason:     rec.LockedReason,
			LockEmailSent:    rec.LockEmailSent,
			UnlockRequest:    rec.UnlockRequest,
		}
		if identity, ok := identities[rec.UserID]; ok {
			account.Email = identity.Email
			account.Name = identity.Name
		} else if rec.UnlockRequest != nil {
			account.Email = rec.UnlockRequest.Email
			account.Name = rec.UnlockRequest.Name
		}
		accounts = append(accounts, account)
	}

	return &LockedAccountsPage{
		Accounts:   accounts,
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// RedeliverLockNotifications re-queues the lock email for locked accounts whose
// earlier notification never reached SES. Records locked within olderThan are
// left alone so a first delivery still in the queue is not duplicated. Up to
// batch emails are queued; records under unresolvable legacy keys are paged
// past and do not count against the batch.
func (s *AdminLockService) RedeliverLockNotifications(ctx context.Context, olderThan time.Duration, batch int) (int, error) {
	locked, sent := true, false
	cutoff := s.now().Add(-olderThan)
	filter := models.SecurityRecordFilter{AccountLocked: &locked, LockEmailSent: &sent, LockedBefore: &cutoff}

	queued := 0
	for offset := 0; queued < batch; offset += batch {
		records, err := s.store.Find(ctx, filter, batch, offset)
		if err != nil {
			return queued, fmt.Errorf("failed to find undelivered lock notifications: %w", err)
		}
		if len(records) == 0 {
			return queued, nil
		}

		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.UserID)
		}
		identities, err := s.identities.FindByIDs(ctx, ids)
		if err != nil {
			return queued, fmt.Errorf("failed to resolve identities: %w", err)
		}

		for _, rec := range records {
			if queued == batch {
				return queued, nil
			}
			identity, ok := identities[rec.UserID]
			if !ok {
				// Legacy keys resolve only through an admin unlock
				s.logger.Debug("skipping lock notification for unresolved record", slog.String("user_id", rec.UserID))
				continue
			}

			accepted, err := s.redeliver(ctx, rec, identity)
			if err != nil {
				return queued, err
			}
			if !accepted {
				// Queue is full; the next sweep picks up the rest
				return queued, nil
			}
			queued++
		}

		if len(records) < batch {
			return queued, nil
		}
	}
	return queued, nil
}

// redeliver refreshes a missing or expired token and queues the lock email.
// It reports false when the queue refused the message.
func (s *AdminLockService) redeliver(ctx context.Context, rec *models.SecurityRecord, identity *models.Identity) (bool, error) {
	if rec.UnlockToken == nil || rec.TokenExpired(s.now()) {
		if err := s.ensureFreshToken(rec); err != nil {
			return false, err
		}
		saved, err := s.store.Save(ctx, rec)
		if err != nil {
			return false, fmt.Errorf("failed to persist unlock token: %w", err)
		}
		rec = saved
	}

	msg, err := s.composer.AccountLocked(identity.Email, identity.Name, *rec.UnlockToken, s.policy.MaxFailedAttempts, *rec.UnlockTokenExpires)
	if err != nil {
		s.logger.Error("failed to render lock notification", slog.Any("error", err))
		return true, nil
	}

	userID := rec.UserID
	return s.queue.Enqueue(msg, func(ctx context.Context) error {
		delivered := true
		_, err := s.store.UpdateMany(ctx,
			models.SecurityRecordFilter{UserIDs: []string{userID}},
			models.SecurityRecordPatch{LockEmailSent: &delivered})
		return err
	}), nil
}

func (s *AdminLockService) findRecord(ctx context.Context, email string) (*models.SecurityRecord, *models.Identity, error) {
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
	return rec, identity, nil
}

func (s *AdminLockService) ensureFreshToken(rec *models.SecurityRecord) error {
	now := s.now()
	if rec.UnlockToken != nil && !rec.TokenExpired(now) {
		return nil
	}
	token, err := s.newToken()
	if err != nil {
		return err
	}
	expires := now.Add(s.policy.UnlockTokenTTL)
	rec.UnlockToken = &token
	rec.UnlockTokenExpires = &expires
	return nil
}

func (s *AdminLockService) sendMoreInfo(identity *models.Identity, userName string, rec *models.SecurityRecord) {
	name := strings.TrimSpace(userName)
	if name == "" {
		name = identity.Name
	}
	s.notify(func() (models.EmailMessage, error) {
		return s.composer.MoreInfoRequired(identity.Email, name, *rec.UnlockToken, *rec.UnlockTokenExpires)
	})
}

func (s *AdminLockService) notify(render func() (models.EmailMessage, error)) {
	msg, err := render()
	if err != nil {
		s.logger.Error("failed to render notification", slog.Any("error", err))
		return
	}
	s.queue.Enqueue(msg, nil)
}
