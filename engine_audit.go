package authbroker

import (
	"context"
	"errors"

	"github.com/MrEthical07/authbroker/internal/audit"
	"github.com/MrEthical07/authbroker/notify"
)

// AuditEvent is one security audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events asynchronously. Emit errors are logged and
// never affect the operation that produced the event.
type AuditSink = audit.Sink

const (
	AuditLoginSuccess           = "LOGIN_SUCCESS"
	AuditLoginFailed            = "LOGIN_FAILED"
	AuditAccountLocked          = "ACCOUNT_LOCKED"
	AuditRateLimitHit           = "RATE_LIMIT_HIT"
	AuditMFARequired            = "MFA_REQUIRED"
	AuditMFASetupInitiated      = "MFA_SETUP_INITIATED"
	AuditMFASetupFailed         = "MFA_SETUP_FAILED"
	AuditMFAEnabled             = "MFA_ENABLED"
	AuditMFAVerifyFailed        = "MFA_VERIFY_FAILED"
	AuditLoginMFAVerified       = "LOGIN_MFA_VERIFIED"
	AuditMFADisabled            = "MFA_DISABLED"
	AuditTokenRefreshed         = "TOKEN_REFRESHED"
	AuditRefreshRejected        = "REFRESH_REJECTED"
	AuditLogout                 = "LOGOUT"
	AuditAllSessionsRevoked     = "ALL_SESSIONS_REVOKED"
	AuditSessionRevoke          = "SESSION_REVOKE"
	AuditUserRegistered         = "USER_REGISTERED"
	AuditEmailVerified          = "EMAIL_VERIFIED"
	AuditEmailVerificationSent  = "EMAIL_VERIFICATION_SENT"
	AuditPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	AuditPasswordResetFailed    = "PASSWORD_RESET_FAILED"
	AuditPasswordResetCompleted = "PASSWORD_RESET_COMPLETED"
	AuditPasswordChangeFailed   = "PASSWORD_CHANGE_FAILED"
	AuditPasswordChanged        = "PASSWORD_CHANGED"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Action:    action,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	// Detached so a cancelled request cannot block or drop its own audit trail.
	e.audit.Emit(context.WithoutCancel(ctx), event)
}

// emitRateLimit audits a throttled request and, for login, warns the account owner.
func (e *Engine) emitRateLimit(ctx context.Context, rerr *RateLimitError, userID, email string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, AuditRateLimitHit, false, userID, rerr, func() map[string]string {
		md := map[string]string{
			"action":      rerr.Action,
			"retry_after": rerr.RetryAfter.String(),
		}
		if email != "" {
			md["email"] = email
		}
		return md
	})

	if rerr.Action == "login" && email != "" {
		e.notify(notify.Message{
			Kind:   notify.KindSecurityWarning,
			To:     email,
			UserID: userID,
			Data: map[string]string{
				"reason": "too many login attempts",
				"ip":     clientIPFromContext(ctx),
			},
		})
	}
}

// notify enqueues msg without blocking. Failures are logged and counted.
func (e *Engine) notify(msg notify.Message) {
	if e.notifier == nil {
		return
	}
	msg.CreatedAt = e.now().UTC()
	if err := e.notifier.Enqueue(msg); err != nil {
		if errors.Is(err, notify.ErrQueueFull) {
			e.metricInc(MetricNotificationDropped)
		}
		e.log.Warn().Err(err).
			Str("kind", string(msg.Kind)).
			Str("user_id", msg.UserID).
			Msg("notification not queued")
	}
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}
