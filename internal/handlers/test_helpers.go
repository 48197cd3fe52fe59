package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin claims to the request context
func WithAdminContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		Type:   "access",
		UserID: userID,
		Email:  email,
		Role:   models.RoleAdmin,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks status, error code and message of an error envelope
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedMessage string) {
	t.Helper()
	var resp pkghttp.ErrorResponse
	AssertJSONResponse(t, w, expectedStatus, &resp)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error, "Error code should not be empty")
	if expectedMessage != "" {
		assert.Equal(t, expectedMessage, resp.Message)
	}
}

// MockLockoutService implements LockoutServiceInterface for testing
type MockLockoutService struct {
	RecordFailedAttemptFunc func(ctx context.Context, email, ipAddress string) (*services.FailedAttemptResult, error)
	GetStatusFunc           func(ctx context.Context, q services.StatusQuery) (*services.AccountStatus, error)
}

func (m *MockLockoutService) RecordFailedAttempt(ctx context.Context, email, ipAddress string) (*services.FailedAttemptResult, error) {
	if m.RecordFailedAttemptFunc != nil {
		return m.RecordFailedAttemptFunc(ctx, email, ipAddress)
	}
	zero := 0
	return &services.FailedAttemptResult{AttemptsRemaining: &zero, Message: services.MsgInvalidCredentials}, nil
}

func (m *MockLockoutService) GetStatus(ctx context.Context, q services.StatusQuery) (*services.AccountStatus, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, q)
	}
	return &services.AccountStatus{IsNewUser: true}, nil
}

// MockUnlockRequestService implements UnlockRequestServiceInterface for testing
type MockUnlockRequestService struct {
	SubmitRequestFunc func(ctx context.Context, in services.SubmitUnlockRequestInput) error
	CheckStatusFunc   func(ctx context.Context, email, token string) (*services.UnlockRequestStatusView, error)
}

func (m *MockUnlockRequestService) SubmitRequest(ctx context.Context, in services.SubmitUnlockRequestInput) error {
	if m.SubmitRequestFunc != nil {
		return m.SubmitRequestFunc(ctx, in)
	}
	return nil
}

func (m *MockUnlockRequestService) CheckStatus(ctx context.Context, email, token string) (*services.UnlockRequestStatusView, error) {
	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, email, token)
	}
	return &services.UnlockRequestStatusView{}, nil
}

// MockAdminLockService implements AdminLockServiceInterface for testing
type MockAdminLockService struct {
	UnlockByEmailFunc      func(ctx context.Context, email, adminID, reason string) (*services.UnlockResult, error)
	RequestMoreInfoFunc    func(ctx context.Context, email, userName, adminID string) error
	ReviewRequestFunc      func(ctx context.Context, in services.ReviewUnlockRequestInput) (*services.ReviewResult, error)
	ListLockedAccountsFunc func(ctx context.Context, page, limit int) (*services.LockedAccountsPage, error)
}

func (m *MockAdminLockService) UnlockByEmail(ctx context.Context, email, adminID, reason string) (*services.UnlockResult, error) {
	if m.UnlockByEmailFunc != nil {
		return m.UnlockByEmailFunc(ctx, email, adminID, reason)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAdminLockService) RequestMoreInfo(ctx context.Context, email, userName, adminID string) error {
	if m.RequestMoreInfoFunc != nil {
		return m.RequestMoreInfoFunc(ctx, email, userName, adminID)
	}
	return nil
}

func (m *MockAdminLockService) ReviewRequest(ctx context.Context, in services.ReviewUnlockRequestInput) (*services.ReviewResult, error) {
	if m.ReviewRequestFunc != nil {
		return m.ReviewRequestFunc(ctx, in)
	}
	return &services.ReviewResult{Email: in.Email, Decision: in.Decision}, nil
}

func (m *MockAdminLockService) ListLockedAccounts(ctx context.Context, page, limit int) (*services.LockedAccountsPage, error) {
	if m.ListLockedAccountsFunc != nil {
		return m.ListLockedAccountsFunc(ctx, page, limit)
	}
	return &services.LockedAccountsPage{Accounts: []services.LockedAccount{}, Page: page, Limit: limit}, nil
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, ipAddress)
	}
	return nil, models.ErrUnauthorized
}
