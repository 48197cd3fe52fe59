package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/handlers"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
	"github.com/stretchr/testify/assert"
)

func newAuthHandler(svc handlers.AuthServiceInterface) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, pkghttp.NewIPConfig(nil), nil, discardLogger())
}

func TestLogin_Success(t *testing.T) {
	expires := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var gotEmail, gotIP string
	handler := newAuthHandler(&handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
			gotEmail, gotIP = email, ipAddress
			return &services.LoginResult{
				AccessToken: "access_token_123",
				ExpiresAt:   expires,
				User:        &models.Identity{ID: "user-1", Email: email, Name: "Pat", Role: models.RoleHomeowner},
			}, nil
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    " User@Example.com ",
		Password: "password123",
	})
	req.RemoteAddr = "192.0.2.10:5555"
	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.True(t, expires.Equal(resp.ExpiresAt))
	assert.Equal(t, "user-1", resp.User.ID)
	assert.Equal(t, models.RoleHomeowner, resp.User.Role)
	assert.Equal(t, "user@example.com", gotEmail)
	assert.Equal(t, "192.0.2.10", gotIP)
}

func TestLogin_FailureBodies(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		failure    *services.FailedAttemptResult
		wantStatus int
		wantLocked bool
	}{
		{
			name:       "wrong password",
			err:        models.ErrUnauthorized,
			failure:    &services.FailedAttemptResult{FailedCount: 2, AttemptsRemaining: intPtr(1), Message: "Invalid credentials. 1 attempt(s) remaining."},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "third failure locks",
			err:        models.ErrAccountLocked,
			failure:    &services.FailedAttemptResult{Locked: true, FailedCount: 3, AttemptsRemaining: intPtr(0), Message: services.MsgAccountLockedNow},
			wantStatus: http.StatusLocked,
			wantLocked: true,
		},
		{
			name:       "already locked",
			err:        models.ErrAccountLocked,
			failure:    &services.FailedAttemptResult{Locked: true, FailedCount: 3, AttemptsRemaining: intPtr(0), Message: services.MsgAccountIsLocked},
			wantStatus: http.StatusLocked,
			wantLocked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newAuthHandler(&handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
					return &services.LoginResult{Failure: tt.failure}, tt.err
				},
			})

			req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "wrong",
			})
			w := httptest.NewRecorder()
			handler.Login(w, req)

			var resp handlers.FailedLoginResponse
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantLocked, resp.AccountLocked)
			assert.Equal(t, tt.failure.Message, resp.Message)
			assert.Equal(t, tt.failure.AttemptsRemaining, resp.AttemptsRemaining)
		})
	}
}

func TestLogin_UnauthorizedWithoutFailureDetail(t *testing.T) {
	handler := newAuthHandler(&handlers.MockAuthService{})

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrong",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, services.MsgInvalidCredentials)
}

func TestLogin_InternalError(t *testing.T) {
	handler := newAuthHandler(&handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
			return nil, errors.New("database unavailable")
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "Internal server error")
	assert.NotContains(t, w.Body.String(), "database unavailable")
}

func TestLogin_InvalidRequests(t *testing.T) {
	tests := []struct {
		name        string
		body        interface{}
		wantMessage string
	}{
		{"missing email", map[string]string{"password": "password123"}, "email is required"},
		{"missing password", map[string]string{"email": "user@example.com"}, "password is required"},
		{"bad email", map[string]string{"email": "user", "password": "password123"}, "email must be a valid email address"},
		{"oversized password", map[string]string{"email": "user@example.com", "password": strings.Repeat("a", 73)}, "password must be at most 72 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := newAuthHandler(&handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
					called = true
					return nil, nil
				},
			})

			req := handlers.NewTestRequest(t, "POST", "/auth/login", tt.body)
			w := httptest.NewRecorder()
			handler.Login(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, tt.wantMessage)
			assert.False(t, called)
		})
	}
}

func TestLogin_FailurePaddedByTimingDelay(t *testing.T) {
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 40})
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, pkghttp.NewIPConfig(nil), timing, discardLogger())

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrong",
	})
	w := httptest.NewRecorder()

	start := time.Now()
	handler.Login(w, req)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   handlers.HealthStatus
	}{
		{"database up", nil, http.StatusOK, handlers.HealthStatus{Status: "healthy", Database: "up"}},
		{"database down", errors.New("refused"), http.StatusServiceUnavailable, handlers.HealthStatus{Status: "unhealthy", Database: "down"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.Health(healthCheckFunc(func(ctx context.Context) error { return tt.err }))

			w := httptest.NewRecorder()
			h(w, httptest.NewRequest("GET", "/health", nil))

			var resp handlers.HealthStatus
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.wantBody, resp)
		})
	}
}

type healthCheckFunc func(ctx context.Context) error

func (f healthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
