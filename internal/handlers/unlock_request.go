package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/subdivisync/internal/models"
	"github.com/BradenHooton/subdivisync/internal/services"
	pkghttp "github.com/BradenHooton/subdivisync/pkg/http"
)

// UnlockRequestServiceInterface defines the homeowner unlock request contract
type UnlockRequestServiceInterface interface {
	SubmitRequest(ctx context.Context, in services.SubmitUnlockRequestInput) error
	CheckStatus(ctx context.Context, email, token string) (*services.UnlockRequestStatusView, error)
}

// UnlockRequestHandler serves the page behind the emailed unlock link
type UnlockRequestHandler struct {
	service UnlockRequestServiceInterface
	logger  *slog.Logger
}

// NewUnlockRequestHandler creates a new UnlockRequestHandler
func NewUnlockRequestHandler(service UnlockRequestServiceInterface, logger *slog.Logger) *UnlockRequestHandler {
	return &UnlockRequestHandler{service: service, logger: logger}
}

// SubmitUnlockRequest is the body of POST /api/unlock-request
type SubmitUnlockRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name,omitempty" validate:"max=100"`
	Reason string `json:"reason" validate:"required"`
	Token  string `json:"token" validate:"required"`
}

// UnlockRequestStatusResponse is the body of GET /api/unlock-request
type UnlockRequestStatusResponse struct {
	Success             bool                       `json:"success"`
	AccountLocked       bool                       `json:"accountLocked"`
	HasUnlockRequest    bool                       `json:"hasUnlockRequest"`
	UnlockRequestStatus models.UnlockRequestStatus `json:"unlockRequestStatus,omitempty"`
	TokenValid          bool                       `json:"tokenValid"`
	LockedAt            *time.Time                 `json:"lockedAt,omitempty"`
}

// Submit handles POST /api/unlock-request
func (h *UnlockRequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitUnlockRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request data")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Token = strings.TrimSpace(req.Token)

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.SubmitRequest(r.Context(), services.SubmitUnlockRequestInput{
		Email:  req.Email,
		Name:   req.Name,
		Reason: req.Reason,
		Token:  req.Token,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteBadRequest(w, validationMessage(err))
		case errors.Is(err, models.ErrNoSecurityRecord):
			pkghttp.WriteNotFound(w, "No security record found for this account")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "No account found with this email")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteBadRequest(w, "This account is not locked")
		case errors.Is(err, models.ErrUnlockTokenExpired):
			pkghttp.WriteForbidden(w, "This unlock link has expired. Please contact support for a new link.")
		case errors.Is(err, models.ErrInvalidUnlockToken):
			pkghttp.WriteForbidden(w, "Invalid or expired unlock link. Please use the link from your email.")
		default:
			h.logger.Error("failed to submit unlock request", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Unlock request submitted successfully. An administrator will review your request.",
	})
}

// Status handles GET /api/unlock-request?email=&token=
func (h *UnlockRequestHandler) Status(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if email == "" || token == "" {
		pkghttp.WriteBadRequest(w, "Invalid unlock request link")
		return
	}

	view, err := h.service.CheckStatus(r.Context(), email, token)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteBadRequest(w, "Invalid unlock request link")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "No account found with this email")
		case errors.Is(err, models.ErrUnlockTokenExpired):
			pkghttp.WriteForbidden(w, "This unlock link has expired. Please contact support.")
		case errors.Is(err, models.ErrInvalidUnlockToken):
			pkghttp.WriteForbidden(w, "Invalid unlock link. Please use the link from your email.")
		default:
			h.logger.Error("failed to check unlock request status", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, UnlockRequestStatusResponse{
		Success:             true,
		AccountLocked:       view.AccountLocked,
		HasUnlockRequest:    view.HasUnlockRequest,
		UnlockRequestStatus: view.UnlockRequestStatus,
		TokenValid:          view.TokenValid,
		LockedAt:            view.LockedAt,
	})
}
