package logger

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Audit event types emitted by the lockout workflow
const (
	EventLoginFailed          = "login_failed"
	EventLoginSucceeded       = "login_succeeded"
	EventAccountLocked        = "account_locked"
	EventAccountUnlocked      = "account_unlocked"
	EventUnlockRequestSubmit  = "unlock_request_submitted"
	EventUnlockRequestReview  = "unlock_request_reviewed"
	EventUnlockEmailResent    = "unlock_email_resent"
	EventFailedLoginReset     = "failed_login_reset"
	EventUnlockTokenRejected  = "unlock_token_rejected"
	EventSecurityRecordRepair = "security_record_user_id_repaired"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	ActorID       string
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security audit events through the structured logger
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits event at info level on success and warn level otherwise
func (al *AuditLogger) Log(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lockout"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", event.ActorID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogFailedAttempt records a failed login against a known identity
func (al *AuditLogger) LogFailedAttempt(userID, ipAddress string, failedCount int, locked bool) {
	eventType := EventLoginFailed
	if locked {
		eventType = EventAccountLocked
	}
	al.Log(AuditEvent{
		EventType:     eventType,
		UserID:        userID,
		IPAddress:     ipAddress,
		FailureReason: "invalid_credentials",
		Metadata: map[string]string{
			"failed_login_count": strconv.Itoa(failedCount),
		},
	})
}

// LogUnlock records an account leaving the locked state
func (al *AuditLogger) LogUnlock(userID, actorID, reason string, userIDWasFixed bool) {
	al.Log(AuditEvent{
		EventType: EventAccountUnlocked,
		UserID:    userID,
		ActorID:   actorID,
		Success:   true,
		Metadata: map[string]string{
			"unlock_reason":     reason,
			"user_id_was_fixed": strconv.FormatBool(userIDWasFixed),
		},
	})
}

// LogAccountAction logs general account actions
func (al *AuditLogger) LogAccountAction(eventType, userID, actorID string, metadata map[string]string) {
	al.Log(AuditEvent{
		EventType: eventType,
		UserID:    userID,
		ActorID:   actorID,
		Success:   true,
		Metadata:  metadata,
	})
}
