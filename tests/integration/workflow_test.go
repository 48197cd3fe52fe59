package integration

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/BradenHooton/subdivisync/internal/handlers"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emailWait = 2 * time.Second

func seedAdmin(t *testing.T, ts *TestServer) string {
	t.Helper()
	email := TestEmail("admin")
	_, err := SeedUser(context.Background(), ts.Users, email, testPassword, models.RoleAdmin)
	require.NoError(t, err)

	token, resp, err := ts.Login(email, testPassword)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return token
}

func failLogin(t *testing.T, ts *TestServer, email string) (int, handlers.FailedLoginResponse) {
	t.Helper()
	resp, err := ts.Request("POST", "/auth/login", map[string]string{"email": email, "password": "WrongPassword1!"}, nil)
	require.NoError(t, err)

	var body handlers.FailedLoginResponse
	require.NoError(t, ParseJSONResponse(resp, &body))
	return resp.StatusCode, body
}

func TestWorkflow_LockRequestApprove(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()
	ctx := context.Background()

	email := TestEmail("owner")
	owner, err := SeedUser(ctx, ts.Users, email, testPassword, models.RoleHomeowner)
	require.NoError(t, err)

	// Two failures count down, the third locks
	status, body := failLogin(t, ts, email)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, body.AttemptsRemaining)
	assert.Equal(t, 2, *body.AttemptsRemaining)

	failLogin(t, ts, email)
	status, body = failLogin(t, ts, email)
	assert.Equal(t, http.StatusLocked, status)
	assert.True(t, body.AccountLocked)
	assert.Equal(t, services.MsgAccountLockedNow, body.Message)

	// Correct password is refused while locked
	_, resp, err := ts.Login(email, testPassword)
	require.NoError(t, err)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	lockEmail := ts.Emails.WaitFor(services.EmailKindAccountLocked, email, emailWait)
	require.NotNil(t, lockEmail, "lock email not delivered")
	token := TokenFromUnlockLink(lockEmail.TextBody)
	require.NotEmpty(t, token)

	require.Eventually(t, func() bool {
		rec, err := ts.Security.FindOne(ctx, owner.ID)
		return err == nil && rec.LockEmailSent
	}, emailWait, 20*time.Millisecond)

	// Unlock page shows the locked account with a valid link
	q := url.Values{"email": {email}, "token": {token}}
	resp, err = ts.Request("GET", "/api/unlock-request?"+q.Encode(), nil, nil)
	require.NoError(t, err)
	var view handlers.UnlockRequestStatusResponse
	require.NoError(t, ParseJSONResponse(resp, &view))
	assert.True(t, view.AccountLocked)
	assert.True(t, view.TokenValid)
	assert.False(t, view.HasUnlockRequest)

	// Homeowner submits a justification
	resp, err = ts.Request("POST", "/api/unlock-request", map[string]string{
		"email":  email,
		"name":   "Pat Owner",
		"reason": Reason(25),
		"token":  token,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Admin sees it and approves
	adminToken := seedAdmin(t, ts)

	resp, err = ts.RequestWithAuth("GET", "/api/admin/locked-accounts", adminToken, nil)
	require.NoError(t, err)
	var listing struct {
		Data services.LockedAccountsPage `json:"data"`
	}
	require.NoError(t, ParseJSONResponse(resp, &listing))
	require.Len(t, listing.Data.Accounts, 1)
	assert.Equal(t, owner.ID, listing.Data.Accounts[0].UserID)
	require.NotNil(t, listing.Data.Accounts[0].UnlockRequest)
	assert.Equal(t, models.UnlockRequestPending, listing.Data.Accounts[0].UnlockRequest.Status)

	resp, err = ts.RequestWithAuth("POST", "/api/admin/unlock-requests/review", adminToken, map[string]string{
		"email":    email,
		"decision": "approved",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.NotNil(t, ts.Emails.WaitFor(services.EmailKindAccountUnlocked, email, emailWait))

	rec, err := ts.Security.FindOne(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, rec.AccountLocked)
	assert.Zero(t, rec.FailedLoginCount)
	assert.Nil(t, rec.UnlockToken)
	assert.Nil(t, rec.UnlockRequest)

	// The old link now reports an unlocked account and login works again
	resp, err = ts.Request("GET", "/api/unlock-request?"+q.Encode(), nil, nil)
	require.NoError(t, err)
	view = handlers.UnlockRequestStatusResponse{}
	require.NoError(t, ParseJSONResponse(resp, &view))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, view.AccountLocked)
	assert.False(t, view.TokenValid)

	accessToken, resp, err := ts.Login(email, testPassword)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, accessToken)
}

func TestWorkflow_FailedLoginEndpoint(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()
	ctx := context.Background()

	report := func(email string) (int, handlers.FailedLoginResponse) {
		resp, err := ts.Request("POST", "/api/auth/failed-login", map[string]string{"email": email}, nil)
		require.NoError(t, err)
		var body handlers.FailedLoginResponse
		require.NoError(t, ParseJSONResponse(resp, &body))
		return resp.StatusCode, body
	}

	t.Run("unknown email persists nothing", func(t *testing.T) {
		status, body := report("ghost@example.com")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.False(t, body.AccountLocked)

		n, err := ts.Security.Count(ctx, models.SecurityRecordFilter{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("admins are never locked", func(t *testing.T) {
		email := TestEmail("admin")
		_, err := SeedUser(ctx, ts.Users, email, testPassword, models.RoleAdmin)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			status, body := report(email)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.False(t, body.AccountLocked)
			assert.Nil(t, body.AttemptsRemaining)
		}
	})

	t.Run("status reflects lock", func(t *testing.T) {
		email := TestEmail("tenant")
		_, err := SeedUser(ctx, ts.Users, email, testPassword, models.RoleTenant)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			report(email)
		}

		resp, err := ts.Request("GET", "/api/auth/failed-login?email="+url.QueryEscape(email), nil, nil)
		require.NoError(t, err)
		var status handlers.LockoutStatusResponse
		require.NoError(t, ParseJSONResponse(resp, &status))
		assert.True(t, status.AccountLocked)
		assert.Equal(t, 3, status.FailedLoginCount)
		require.NotNil(t, status.AttemptsRemaining)
		assert.Zero(t, *status.AttemptsRemaining)
	})
}

func TestWorkflow_AdminUnlockRepairsLegacyKey(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()
	ctx := context.Background()

	email := TestEmail("legacy")
	owner, err := SeedUser(ctx, ts.Users, email, testPassword, models.RoleHomeowner)
	require.NoError(t, err)
	require.NoError(t, SeedLegacyLockedRecord(ctx, db.Pool, email))

	adminToken := seedAdmin(t, ts)

	resp, err := ts.RequestWithAuth("POST", "/api/admin/unlock-account-by-email", adminToken, map[string]string{"email": email})
	require.NoError(t, err)
	var body struct {
		Message string                `json:"message"`
		Data    services.UnlockResult `json:"data"`
	}
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Account unlocked and userId corrected successfully", body.Message)
	assert.True(t, body.Data.UserIDWasFixed)
	assert.Equal(t, owner.ID, body.Data.CorrectedUserID)

	rec, err := ts.Security.FindOne(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, rec.AccountLocked)

	_, err = ts.Security.FindOne(ctx, email)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// A second unlock finds nothing to do
	resp, err = ts.RequestWithAuth("POST", "/api/admin/unlock-account-by-email", adminToken, map[string]string{"email": email})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	msg, err := GetErrorMessage(resp)
	require.NoError(t, err)
	assert.Equal(t, "Account is not locked", msg)
}

func TestWorkflow_AdminRoutesRequireAdmin(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()

	resp, err := ts.Request("GET", "/api/admin/locked-accounts", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	email := TestEmail("tenant")
	_, err = SeedUser(context.Background(), ts.Users, email, testPassword, models.RoleTenant)
	require.NoError(t, err)
	token, _, err := ts.Login(email, testPassword)
	require.NoError(t, err)

	resp, err = ts.RequestWithAuth("GET", "/api/admin/locked-accounts", token, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkflow_ResetFailedLogin(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()
	ctx := context.Background()

	email := TestEmail("reset")
	owner, err := SeedUser(ctx, ts.Users, email, testPassword, models.RoleHomeowner)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		failLogin(t, ts, email)
	}

	n, err := ts.AdminLock.ResetFailedLogin(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = ts.AdminLock.ResetFailedLogin(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := ts.Security.FindOne(ctx, owner.ID)
	require.NoError(t, err)
	assert.False(t, rec.AccountLocked)
	require.NotNil(t, rec.UnlockReason)
	assert.Equal(t, models.ResetUnlockReason, *rec.UnlockReason)
}

func TestHealthEndpoint(t *testing.T) {
	db := requireDB(t)
	ts := NewTestServer(db.DB)
	defer ts.Close()

	resp, err := ts.Request("GET", "/health", nil, nil)
	require.NoError(t, err)
	var body handlers.HealthStatus
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body.Status)
}
