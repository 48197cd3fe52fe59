package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/subdivisync/internal/handlers"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int {
	return &v
}

func newLockoutHandler(svc handlers.LockoutServiceInterface) *handlers.LockoutHandler {
	return handlers.NewLockoutHandler(svc, pkghttp.NewIPConfig([]string{"10.0.0.0/8"}), nil, discardLogger())
}

func TestRecordFailedLogin_Responses(t *testing.T) {
	tests := []struct {
		name       string
		result     *services.FailedAttemptResult
		wantStatus int
	}{
		{
			name:       "counting down",
			result:     &services.FailedAttemptResult{FailedCount: 1, AttemptsRemaining: intPtr(2), Message: "Invalid credentials. 2 attempt(s) remaining."},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "locks now",
			result:     &services.FailedAttemptResult{Locked: true, FailedCount: 3, AttemptsRemaining: intPtr(0), Message: services.MsgAccountLockedNow},
			wantStatus: http.StatusLocked,
		},
		{
			name:       "admin exempt",
			result:     &services.FailedAttemptResult{Message: services.MsgInvalidCredentials},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLockoutHandler(&handlers.MockLockoutService{
				RecordFailedAttemptFunc: func(ctx context.Context, email, ip string) (*services.FailedAttemptResult, error) {
					return tt.result, nil
				},
			})

			req := handlers.NewTestRequest(t, "POST", "/api/auth/failed-login", map[string]string{"email": "owner@example.com"})
			w := httptest.NewRecorder()
			h.RecordFailedLogin(w, req)

			var resp handlers.FailedLoginResponse
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.result.Message, resp.Message)
			assert.Equal(t, tt.result.Locked, resp.AccountLocked)
			assert.Equal(t, tt.result.FailedCount, resp.FailedLoginCount)
			assert.Equal(t, tt.result.AttemptsRemaining, resp.AttemptsRemaining)
		})
	}
}

func TestRecordFailedLogin_AdminAttemptsRemainingIsNull(t *testing.T) {
	h := newLockoutHandler(&handlers.MockLockoutService{
		RecordFailedAttemptFunc: func(ctx context.Context, email, ip string) (*services.FailedAttemptResult, error) {
			return &services.FailedAttemptResult{Message: services.MsgInvalidCredentials}, nil
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/failed-login", map[string]string{"email": "admin@example.com"})
	w := httptest.NewRecorder()
	h.RecordFailedLogin(w, req)

	assert.Contains(t, w.Body.String(), `"attemptsRemaining":null`)
}

func TestRecordFailedLogin_NormalizesEmailAndIgnoresUserID(t *testing.T) {
	var gotEmail, gotIP string
	h := newLockoutHandler(&handlers.MockLockoutService{
		RecordFailedAttemptFunc: func(ctx context.Context, email, ip string) (*services.FailedAttemptResult, error) {
			gotEmail, gotIP = email, ip
			return &services.FailedAttemptResult{AttemptsRemaining: intPtr(2)}, nil
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/failed-login", map[string]string{
		"email":     "  Owner@Example.COM ",
		"userId":    "someone-else",
		"ipAddress": "198.51.100.9",
	})
	req.RemoteAddr = "203.0.113.5:4444"
	w := httptest.NewRecorder()
	h.RecordFailedLogin(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "owner@example.com", gotEmail)
	assert.Equal(t, "203.0.113.5", gotIP, "untrusted caller cannot report an address")
}

func TestRecordFailedLogin_TrustedProxyReportsClientIP(t *testing.T) {
	var gotIP string
	h := newLockoutHandler(&handlers.MockLockoutService{
		RecordFailedAttemptFunc: func(ctx context.Context, email, ip string) (*services.FailedAttemptResult, error) {
			gotIP = ip
			return &services.FailedAttemptResult{AttemptsRemaining: intPtr(2)}, nil
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/failed-login", map[string]string{
		"email":     "owner@example.com",
		"ipAddress": "198.51.100.9",
	})
	req.RemoteAddr = "10.1.2.3:4444"
	w := httptest.NewRecorder()
	h.RecordFailedLogin(w, req)

	assert.Equal(t, "198.51.100.9", gotIP)
}

func TestRecordFailedLogin_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"email":`},
		{"missing email", `{}`},
		{"invalid email", `{"email":"not-an-email"}`},
		{"two documents", `{"email":"a@example.com"}{"email":"b@example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := newLockoutHandler(&handlers.MockLockoutService{
				RecordFailedAttemptFunc: func(ctx context.Context, email, ip string) (*services.FailedAttemptResult, error) {
					called = true
					return nil, nil
				},
			})

			req := httptest.NewRequest("POST", "/api/auth/failed-login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.RecordFailedLogin(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "")
			assert.False(t, called)
		})
	}
}

func TestRecordFailedLogin_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", fmt.Errorf("%w: invalid email address", models.ErrValidation), http.StatusBadRequest},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLockoutHandler(&handlers.MockLockoutService{
				RecordFailedAttemptFunc: func(ctx context.Context, email, ip string) (*services.FailedAttemptResult, error) {
					return nil, tt.err
				},
			})

			req := handlers.NewTestRequest(t, "POST", "/api/auth/failed-login", map[string]string{"email": "owner@example.com"})
			w := httptest.NewRecorder()
			h.RecordFailedLogin(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, "")
		})
	}
}

func TestGetLockoutStatus(t *testing.T) {
	lockedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		query      string
		status     *services.AccountStatus
		wantStatus int
		wantQuery  services.StatusQuery
		wantBody   []string
	}{
		{
			name:       "new user by email",
			query:      "?email=owner@example.com",
			status:     &services.AccountStatus{IsNewUser: true},
			wantStatus: http.StatusOK,
			wantQuery:  services.StatusQuery{Email: "owner@example.com"},
			wantBody:   []string{`"isNewUser":true`, `"attemptsRemaining":null`},
		},
		{
			name:       "locked by user id",
			query:      "?userId=user-1",
			status:     &services.AccountStatus{AccountLocked: true, FailedLoginCount: 3, AttemptsRemaining: intPtr(0), LockedAt: &lockedAt},
			wantStatus: http.StatusOK,
			wantQuery:  services.StatusQuery{UserID: "user-1"},
			wantBody:   []string{`"accountLocked":true`, `"attemptsRemaining":0`, `"failedLoginCount":3`},
		},
		{
			name:       "missing identifiers",
			query:      "",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery services.StatusQuery
			h := newLockoutHandler(&handlers.MockLockoutService{
				GetStatusFunc: func(ctx context.Context, q services.StatusQuery) (*services.AccountStatus, error) {
					gotQuery = q
					return tt.status, nil
				},
			})

			req := httptest.NewRequest("GET", "/api/auth/failed-login"+tt.query, nil)
			w := httptest.NewRecorder()
			h.GetLockoutStatus(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantQuery, gotQuery)
			assert.Contains(t, w.Body.String(), `"success":true`)
			for _, fragment := range tt.wantBody {
				assert.Contains(t, w.Body.String(), fragment)
			}
		})
	}
}
