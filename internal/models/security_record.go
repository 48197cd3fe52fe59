package models

import (
	"crypto/subtle"
	"fmt"
	"net"
	"time"
	"unicode/utf8"
)

const (
	MinFailedLoginCount = 0
	MaxFailedLoginCount = 10

	MaxLockReasonLength   = 500
	MaxUnlockReasonLength = 1000
	MaxAdminNotesLength   = 500
	MinUnlockReasonWords  = 20

	DefaultAdminUnlockReason = "Unlocked by admin via email"
	ResetUnlockReason        = "Reset via script"
)

// AutomaticLockoutReason is the lockedReason recorded when the failure threshold is reached.
func AutomaticLockoutReason(threshold int) string {
	return fmt.Sprintf("Automatic lockout due to %d failed login attempts", threshold)
}

// UnlockRequestStatus is the admin disposition of a homeowner unlock request
type UnlockRequestStatus string

const (
	UnlockRequestPending       UnlockRequestStatus = "pending"
	UnlockRequestApproved      UnlockRequestStatus = "approved"
	UnlockRequestRejected      UnlockRequestStatus = "rejected"
	UnlockRequestNeedsMoreInfo UnlockRequestStatus = "needs_more_info"
)

// Valid reports whether s is one of the known statuses.
func (s UnlockRequestStatus) Valid() bool {
	switch s {
	case UnlockRequestPending, UnlockRequestApproved, UnlockRequestRejected, UnlockRequestNeedsMoreInfo:
		return true
	}
	return false
}

// UnlockRequest is the homeowner justification embedded in a SecurityRecord.
// Persisted as JSONB, so the json tags are the storage format.
type UnlockRequest struct {
	Email       string              `json:"email"`
	Name        string              `json:"name,omitempty"`
	Reason      string              `json:"reason"`
	SubmittedAt time.Time           `json:"submittedAt"`
	Status      UnlockRequestStatus `json:"status"`
	AdminNotes  string              `json:"adminNotes,omitempty"`
}

// SecurityRecord holds lockout state for one user identity (unique by UserID)
type SecurityRecord struct {
	ID                  string
	UserID              string
	FailedLoginCount    int
	AccountLocked       bool
	LockedAt            *time.Time
	LockedBy            *string
	LockedReason        *string
	UnlockedAt          *time.Time
	UnlockedBy          *string
	UnlockReason        *string
	UnlockToken         *string
	UnlockTokenExpires  *time.Time
	LastLoginAttempt    *time.Time
	LastSuccessfulLogin *time.Time
	IPAddress           *string
	LockEmailSent       bool
	UnlockRequest       *UnlockRequest
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewSecurityRecord returns an unlocked record with zero history for userID.
func NewSecurityRecord(userID string) *SecurityRecord {
	return &SecurityRecord{UserID: userID}
}

// Normalize enforces the record invariants. Repositories call it before every write.
func (r *SecurityRecord) Normalize() {
	if r.FailedLoginCount > MaxFailedLoginCount {
		r.FailedLoginCount = MaxFailedLoginCount
	}
	if r.FailedLoginCount < MinFailedLoginCount {
		r.FailedLoginCount = MinFailedLoginCount
	}

	if r.AccountLocked && r.LockedAt == nil {
		now := time.Now()
		r.LockedAt = &now
	}

	// An unlock request only makes sense while the account is locked
	if !r.AccountLocked {
		r.UnlockRequest = nil
	}

	if r.IPAddress != nil && net.ParseIP(*r.IPAddress) == nil {
		r.IPAddress = nil
	}

	r.LockedReason = truncate(r.LockedReason, MaxLockReasonLength)
	r.UnlockReason = truncate(r.UnlockReason, MaxLockReasonLength)
	if r.UnlockRequest != nil {
		r.UnlockRequest.AdminNotes = *truncate(&r.UnlockRequest.AdminNotes, MaxAdminNotesLength)
	}
}

// Lock transitions the record to locked and attaches a freshly minted unlock token.
func (r *SecurityRecord) Lock(at time.Time, reason string, lockedBy *string, token string, tokenExpires time.Time) {
	r.AccountLocked = true
	r.LockedAt = &at
	r.LockedBy = lockedBy
	r.LockedReason = &reason
	r.UnlockToken = &token
	r.UnlockTokenExpires = &tokenExpires
}

// Unlock clears every lock field, the token and any pending request, and
// resets the failure counter.
func (r *SecurityRecord) Unlock(at time.Time, unlockedBy *string, reason string) {
	r.AccountLocked = false
	r.FailedLoginCount = 0
	r.UnlockedAt = &at
	r.UnlockedBy = unlockedBy
	r.UnlockReason = &reason
	r.LockedAt = nil
	r.LockedBy = nil
	r.LockedReason = nil
	r.UnlockToken = nil
	r.UnlockTokenExpires = nil
	r.UnlockRequest = nil
}

// NeedsReset reports whether a maintenance reset would change the record.
func (r *SecurityRecord) NeedsReset() bool {
	return r.FailedLoginCount > 0 || r.AccountLocked
}

// TokenMatches compares token with the stored unlock token.
func (r *SecurityRecord) TokenMatches(token string) bool {
	if r.UnlockToken == nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*r.UnlockToken), []byte(token)) == 1
}

// TokenExpired reports whether the stored unlock token is past its expiry at now.
func (r *SecurityRecord) TokenExpired(now time.Time) bool {
	return r.UnlockTokenExpires != nil && now.After(*r.UnlockTokenExpires)
}

// SecurityRecordFilter selects records for bulk operations. Zero value matches everything.
type SecurityRecordFilter struct {
	UserIDs       []string
	AccountLocked *bool
	LockEmailSent *bool
	// LockedBefore matches records whose locked_at is strictly before it
	LockedBefore *time.Time
	// NeedsReset matches failed_login_count > 0 OR account_locked = true
	NeedsReset bool
}

// SecurityRecordPatch is a pure field-set applied atomically by UpdateMany.
// Nil fields are left untouched.
type SecurityRecordPatch struct {
	FailedLoginCount *int
	AccountLocked    *bool
	UnlockedAt       *time.Time
	UnlockReason     *string
	LockEmailSent    *bool
	// ClearLock nulls lock fields, the unlock token and the unlock request
	ClearLock bool
}

// IsEmpty reports whether the patch would not change anything.
func (p SecurityRecordPatch) IsEmpty() bool {
	return p.FailedLoginCount == nil && p.AccountLocked == nil && p.UnlockedAt == nil &&
		p.UnlockReason == nil && p.LockEmailSent == nil && !p.ClearLock
}

// ResetPatch is the maintenance reset applied by resetFailedLogin.
func ResetPatch(at time.Time) SecurityRecordPatch {
	zero := 0
	unlocked := false
	reason := ResetUnlockReason
	return SecurityRecordPatch{
		FailedLoginCount: &zero,
		AccountLocked:    &unlocked,
		UnlockedAt:       &at,
		UnlockReason:     &reason,
		ClearLock:        true,
	}
}

// truncate caps s at max characters, matching the VARCHAR limits.
func truncate(s *string, max int) *string {
	if s == nil || utf8.RuneCountInString(*s) <= max {
		return s
	}
	t := string([]rune(*s)[:max])
	return &t
}
