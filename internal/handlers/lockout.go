package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
)

// LockoutServiceInterface defines the failed-login tracking contract
type LockoutServiceInterface interface {
	RecordFailedAttempt(ctx context.Context, email, ipAddress string) (*services.FailedAttemptResult, error)
	GetStatus(ctx context.Context, q services.StatusQuery) (*services.AccountStatus, error)
}

// LockoutHandler exposes failed-login tracking to the portal front end
type LockoutHandler struct {
	service  LockoutServiceInterface
	ipConfig *pkghttp.IPConfig
	timing   *auth.TimingDelay
	logger   *slog.Logger
}

// NewLockoutHandler creates a new LockoutHandler
func NewLockoutHandler(service LockoutServiceInterface, ipConfig *pkghttp.IPConfig, timing *auth.TimingDelay, logger *slog.Logger) *LockoutHandler {
	return &LockoutHandler{
		service:  service,
		ipConfig: ipConfig,
		timing:   timing,
		logger:   logger,
	}
}

// FailedLoginRequest reports one failed login. UserID is accepted for
// compatibility but the account is always resolved from Email.
type FailedLoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	UserID    string `json:"userId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// FailedLoginResponse is the body of every failed-login answer
type FailedLoginResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	AccountLocked     bool   `json:"accountLocked"`
	FailedLoginCount  int    `json:"failedLoginCount"`
	AttemptsRemaining *int   `json:"attemptsRemaining"`
}

// LockoutStatusResponse is the body of GET /api/auth/failed-login
type LockoutStatusResponse struct {
	Success           bool       `json:"success"`
	AccountLocked     bool       `json:"accountLocked"`
	FailedLoginCount  int        `json:"failedLoginCount"`
	AttemptsRemaining *int       `json:"attemptsRemaining"`
	IsNewUser         bool       `json:"isNewUser"`
	LockedAt          *time.Time `json:"lockedAt,omitempty"`
	LastLoginAttempt  *time.Time `json:"lastLoginAttempt,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RecordFailedLogin handles POST /api/auth/failed-login
func (h *LockoutHandler) RecordFailedLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req FailedLoginRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request data")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ResolveClientIP(r, h.ipConfig, req.IPAddress)

	result, err := h.service.RecordFailedAttempt(r.Context(), req.Email, ipAddress)
	h.timing.WaitFrom(r.Context(), start, false)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			pkghttp.WriteBadRequest(w, validationMessage(err))
			return
		}
		h.logger.Error("failed to record failed login", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeFailedLogin(w, result)
}

// GetLockoutStatus handles GET /api/auth/failed-login?email=|userId=
func (h *LockoutHandler) GetLockoutStatus(w http.ResponseWriter, r *http.Request) {
	query := services.StatusQuery{
		Email:  strings.TrimSpace(r.URL.Query().Get("email")),
		UserID: strings.TrimSpace(r.URL.Query().Get("userId")),
	}
	if query.Email == "" && query.UserID == "" {
		pkghttp.WriteBadRequest(w, "userId or email is required")
		return
	}

	status, err := h.service.GetStatus(r.Context(), query)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			pkghttp.WriteBadRequest(w, validationMessage(err))
			return
		}
		h.logger.Error("failed to read lockout status", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockoutStatusResponse{
		Success:           true,
		AccountLocked:     status.AccountLocked,
		FailedLoginCount:  status.FailedLoginCount,
		AttemptsRemaining: status.AttemptsRemaining,
		IsNewUser:         status.IsNewUser,
		LockedAt:          status.LockedAt,
		LastLoginAttempt:  status.LastLoginAttempt,
	})
}

// writeFailedLogin answers 423 for locked accounts and 401 otherwise
func writeFailedLogin(w http.ResponseWriter, result *services.FailedAttemptResult) {
	status := http.StatusUnauthorized
	if result.Locked {
		status = http.StatusLocked
	}
	pkghttp.WriteJSON(w, status, FailedLoginResponse{
		Success:           false,
		Message:           result.Message,
		AccountLocked:     result.Locked,
		FailedLoginCount:  result.FailedCount,
		AttemptsRemaining: result.AttemptsRemaining,
	})
}

// validationMessage strips the sentinel prefix from a wrapped ErrValidation
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	if msg == "" {
		return "Invalid request data"
	}
	return msg
}
