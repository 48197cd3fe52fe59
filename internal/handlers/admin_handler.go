package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BradenHooton/subdivisync/internal/auth"
	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
)

// AdminLockServiceInterface defines the admin lock management contract
type AdminLockServiceInterface interface {
	UnlockByEmail(ctx context.Context, email, adminID, reason string) (*services.UnlockResult, error)
	RequestMoreInfo(ctx context.Context, email, userName, adminID string) error
	ReviewRequest(ctx context.Context, in services.ReviewUnlockRequestInput) (*services.ReviewResult, error)
	ListLockedAccounts(ctx context.Context, page, limit int) (*services.LockedAccountsPage, error)
}

// AdminHandler handles admin lock management HTTP requests. Routes are
// mounted behind AuthMiddleware and RequireRole(admin).
type AdminHandler struct {
	service AdminLockServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminLockServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// UnlockAccountRequest is the body of POST /api/admin/unlock-account-by-email
type UnlockAccountRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// ResendUnlockEmailRequest is the body of POST /api/admin/resend-unlock-email
type ResendUnlockEmailRequest struct {
	Email    string `json:"email" validate:"required,email"`
	UserName string `json:"userName,omitempty" validate:"max=100"`
}

// ReviewRequest is the body of POST /api/admin/unlock-requests/review
type ReviewRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Decision   string `json:"decision" validate:"required,oneof=approved rejected needs_more_info"`
	AdminNotes string `json:"adminNotes,omitempty" validate:"max=500"`
}

type dataResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// UnlockAccountByEmail handles POST /api/admin/unlock-account-by-email
func (h *AdminHandler) UnlockAccountByEmail(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req UnlockAccountRequest
	if !decodeAndValidate(w, r, &req, &req.Email) {
		return
	}

	result, err := h.service.UnlockByEmail(r.Context(), req.Email, claims.UserID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteBadRequest(w, validationMessage(err))
		case errors.Is(err, models.ErrNoSecurityRecord):
			pkghttp.WriteNotFound(w, "No security record found for this email")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found with this email")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteBadRequest(w, "Account is not locked")
		default:
			h.logger.Error("failed to unlock account", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	message := "Account unlocked successfully"
	if result.UserIDWasFixed {
		message = "Account unlocked and userId corrected successfully"
	}
	pkghttp.WriteJSON(w, http.StatusOK, dataResponse{Success: true, Message: message, Data: result})
}

// ResendUnlockEmail handles POST /api/admin/resend-unlock-email
func (h *AdminHandler) ResendUnlockEmail(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ResendUnlockEmailRequest
	if !decodeAndValidate(w, r, &req, &req.Email) {
		return
	}

	if err := h.service.RequestMoreInfo(r.Context(), req.Email, req.UserName, claims.UserID); err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteBadRequest(w, validationMessage(err))
		case errors.Is(err, models.ErrNoSecurityRecord):
			pkghttp.WriteNotFound(w, "No security record found for this account")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "No account found with this email")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteBadRequest(w, "This account is not locked")
		default:
			h.logger.Error("failed to resend unlock email", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Email sent successfully. User can now resubmit their reason.",
	})
}

// ReviewUnlockRequest handles POST /api/admin/unlock-requests/review
func (h *AdminHandler) ReviewUnlockRequest(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ReviewRequest
	if !decodeAndValidate(w, r, &req, &req.Email) {
		return
	}

	result, err := h.service.ReviewRequest(r.Context(), services.ReviewUnlockRequestInput{
		Email:      req.Email,
		Decision:   models.UnlockRequestStatus(req.Decision),
		AdminNotes: req.AdminNotes,
		AdminID:    claims.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteBadRequest(w, validationMessage(err))
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "No locked account found with this email")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteBadRequest(w, "No unlock request awaiting review for this account")
		default:
			h.logger.Error("failed to review unlock request", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, dataResponse{
		Success: true,
		Message: "Unlock request marked " + req.Decision,
		Data:    result,
	})
}

// ListLockedAccounts handles GET /api/admin/locked-accounts?page=&limit=
func (h *AdminHandler) ListLockedAccounts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	result, err := h.service.ListLockedAccounts(r.Context(), page, limit)
	if err != nil {
		h.logger.Error("failed to list locked accounts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve locked accounts")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, dataResponse{Success: true, Data: result})
}

// decodeAndValidate reads a JSON body into req, normalizes *email and runs
// the validator. It writes the 400 itself and reports whether to continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, email *string) bool {
	if err := pkghttp.DecodeJSON(w, r, req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request data")
		return false
	}
	*email = strings.ToLower(strings.TrimSpace(*email))
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
