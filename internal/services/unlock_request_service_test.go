package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words builds a reason of n words
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("locked ", n))
}

func TestValidateUnlockReason(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace", "   \n\t ", true},
		{"nineteen words", words(19), true},
		{"twenty words", words(20), false},
		{"twenty words with extra spacing", "  " + strings.Join(strings.Fields(words(20)), "   ") + "  ", false},
		{"exactly max length", words(20) + strings.Repeat("x", models.MaxUnlockReasonLength-len(words(20))), false},
		{"over max length", words(20) + strings.Repeat("x", models.MaxUnlockReasonLength), true},
		{"multibyte runes counted as characters", words(20) + " " + strings.Repeat("é", models.MaxUnlockReasonLength-len(words(20))-1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUnlockReason(tt.reason)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnlockRequestService_SubmitRequest(t *testing.T) {
	h := newLockoutHarness(t)
	h.lockHomeowner(t)
	ctx := context.Background()

	err := h.unlock.SubmitRequest(ctx, SubmitUnlockRequestInput{
		Email:  "Owner@Example.com",
		Reason: words(25),
		Token:  testToken,
	})
	require.NoError(t, err)

	rec := h.store.Get(homeowner.ID)
	require.NotNil(t, rec.UnlockRequest)
	assert.Equal(t, homeowner.Email, rec.UnlockRequest.Email)
	assert.Equal(t, homeowner.Name, rec.UnlockRequest.Name)
	assert.Equal(t, words(25), rec.UnlockRequest.Reason)
	assert.Equal(t, models.UnlockRequestPending, rec.UnlockRequest.Status)
	assert.Equal(t, h.clock.Now(), rec.UnlockRequest.SubmittedAt)
	assert.True(t, rec.AccountLocked)

	// Resubmission replaces the active request
	h.clock.Advance(time.Hour)
	err = h.unlock.SubmitRequest(ctx, SubmitUnlockRequestInput{
		Email:  homeowner.Email,
		Name:   "H. Owner",
		Reason: words(30),
		Token:  testToken,
	})
	require.NoError(t, err)

	rec = h.store.Get(homeowner.ID)
	assert.Equal(t, "H. Owner", rec.UnlockRequest.Name)
	assert.Equal(t, words(30), rec.UnlockRequest.Reason)
	assert.Equal(t, h.clock.Now(), rec.UnlockRequest.SubmittedAt)
}

func TestUnlockRequestService_SubmitRequest_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *lockoutHarness)
		input   SubmitUnlockRequestInput
		wantErr error
	}{
		{
			name:    "missing email",
			input:   SubmitUnlockRequestInput{Reason: words(20), Token: testToken},
			wantErr: models.ErrValidation,
		},
		{
			name:    "short reason",
			input:   SubmitUnlockRequestInput{Email: homeowner.Email, Reason: words(5), Token: testToken},
			wantErr: models.ErrValidation,
		},
		{
			name:    "missing token",
			input:   SubmitUnlockRequestInput{Email: homeowner.Email, Reason: words(20)},
			wantErr: models.ErrValidation,
		},
		{
			name:    "unknown email",
			input:   SubmitUnlockRequestInput{Email: "ghost@example.com", Reason: words(20), Token: testToken},
			wantErr: models.ErrNotFound,
		},
		{
			name:    "no security record",
			input:   SubmitUnlockRequestInput{Email: tenant.Email, Reason: words(20), Token: testToken},
			wantErr: models.ErrNotFound,
		},
		{
			name: "account not locked",
			setup: func(t *testing.T, h *lockoutHarness) {
				_, err := h.lockout.RecordFailedAttempt(context.Background(), tenant.Email, "")
				require.NoError(t, err)
			},
			input:   SubmitUnlockRequestInput{Email: tenant.Email, Reason: words(20), Token: testToken},
			wantErr: models.ErrInvalidState,
		},
		{
			name:    "wrong token",
			setup:   func(t *testing.T, h *lockoutHarness) { h.lockHomeowner(t) },
			input:   SubmitUnlockRequestInput{Email: homeowner.Email, Reason: words(20), Token: "forged"},
			wantErr: models.ErrInvalidUnlockToken,
		},
		{
			name: "expired token",
			setup: func(t *testing.T, h *lockoutHarness) {
				h.lockHomeowner(t)
				h.clock.Advance(7*24*time.Hour + time.Second)
			},
			input:   SubmitUnlockRequestInput{Email: homeowner.Email, Reason: words(20), Token: testToken},
			wantErr: models.ErrUnlockTokenExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLockoutHarness(t)
			if tt.setup != nil {
				tt.setup(t, h)
			}

			err := h.unlock.SubmitRequest(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.wantErr)

			if rec := h.store.Get(homeowner.ID); rec != nil {
				assert.Nil(t, rec.UnlockRequest)
			}
		})
	}
}

func TestUnlockRequestService_TokenErrorsAreForbidden(t *testing.T) {
	assert.ErrorIs(t, models.ErrInvalidUnlockToken, models.ErrForbidden)
	assert.ErrorIs(t, models.ErrUnlockTokenExpired, models.ErrForbidden)
}

func TestUnlockRequestService_CheckStatus(t *testing.T) {
	h := newLockoutHarness(t)
	ctx := context.Background()

	_, err := h.unlock.CheckStatus(ctx, homeowner.Email, "")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.unlock.CheckStatus(ctx, "ghost@example.com", testToken)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// No history reads as not locked
	view, err := h.unlock.CheckStatus(ctx, homeowner.Email, testToken)
	require.NoError(t, err)
	assert.False(t, view.AccountLocked)
	assert.False(t, view.TokenValid)

	h.lockHomeowner(t)

	_, err = h.unlock.CheckStatus(ctx, homeowner.Email, "forged")
	assert.ErrorIs(t, err, models.ErrInvalidUnlockToken)

	view, err = h.unlock.CheckStatus(ctx, homeowner.Email, testToken)
	require.NoError(t, err)
	assert.True(t, view.AccountLocked)
	assert.True(t, view.TokenValid)
	assert.False(t, view.HasUnlockRequest)
	assert.NotNil(t, view.LockedAt)

	require.NoError(t, h.unlock.SubmitRequest(ctx, SubmitUnlockRequestInput{
		Email: homeowner.Email, Reason: words(20), Token: testToken,
	}))

	view, err = h.unlock.CheckStatus(ctx, homeowner.Email, testToken)
	require.NoError(t, err)
	assert.True(t, view.HasUnlockRequest)
	assert.Equal(t, models.UnlockRequestPending, view.UnlockRequestStatus)

	h.clock.Advance(8 * 24 * time.Hour)
	_, err = h.unlock.CheckStatus(ctx, homeowner.Email, testToken)
	assert.ErrorIs(t, err, models.ErrUnlockTokenExpired)
}
