package authbroker

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authbroker/internal/rate"
	"github.com/MrEthical07/authbroker/jwt"
	"github.com/MrEthical07/authbroker/notify"
	"github.com/MrEthical07/authbroker/password"
)

// Login authenticates email and password.
//
// The order is fixed: login rate limit, lockout check, credential check,
// email-verified check, success record, session cap, device check. A user
// with active MFA on a device not seen before receives only a temporary token
// and no session is created until VerifyMFALogin succeeds.
//
// Store outages return ErrStoreUnavailable and never count as a failed attempt.
func (e *Engine) Login(ctx context.Context, email, plain string) (*LoginResult, error) {
	started := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(started)) }()

	email = normalizeEmail(email)
	if email == "" || plain == "" {
		return nil, ErrAllFieldsRequired
	}
	ip := clientIPFromContext(ctx)

	if err := e.checkRate(ctx, rate.ActionLogin, rate.LoginKey(ip, email), e.cfg.RateLimit.Login, "", email); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return nil, err
	}

	status, err := e.lockout.CheckLock(ctx, email, ip)
	if err != nil {
		return nil, unavailable(err)
	}
	if status.Locked {
		lerr := &LockedError{MinutesRemaining: status.MinutesRemaining}
		if err := e.lockout.RecordAttempt(ctx, "", ip, email, false); err != nil {
			return nil, unavailable(err)
		}
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, AuditAccountLocked, false, "", lerr, func() map[string]string {
			return map[string]string{"email": email}
		})
		return nil, lerr
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.loginFailure(ctx, "", email, ErrInvalidCredentials)
		}
		return nil, unavailable(err)
	}

	ok, err := e.hasher.Verify(plain, user.PasswordHash)
	if errors.Is(err, password.ErrMalformedHash) {
		e.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
	}
	if !ok {
		return nil, e.loginFailure(ctx, user.ID, email, ErrInvalidCredentials)
	}
	e.rehashIfNeeded(ctx, user, plain)

	if !user.EmailVerified {
		return nil, e.loginFailure(ctx, user.ID, email, ErrEmailNotVerified)
	}

	if err := e.lockout.RecordAttempt(ctx, user.ID, ip, email, true); err != nil {
		return nil, unavailable(err)
	}

	return e.completeLogin(ctx, user, true)
}

// VerifyMFALogin exchanges a temporary token and a TOTP code for a full token
// pair.
func (e *Engine) VerifyMFALogin(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if tempToken == "" || code == "" {
		return nil, ErrAllFieldsRequired
	}
	claims, err := e.ValidateTemporary(tempToken)
	if err != nil {
		e.emitAudit(ctx, AuditMFAVerifyFailed, false, "", err, nil)
		return nil, err
	}
	userID := claims.UserID()

	if err := e.checkRate(ctx, rate.ActionMFAVerify, rate.MFAVerifyKey(userID, clientIPFromContext(ctx)), e.cfg.RateLimit.MFAVerify, userID, ""); err != nil {
		return nil, err
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTempTokenInvalid
		}
		return nil, err
	}

	if err := e.mfa.VerifyLogin(e.mfaAccount(user), code); err != nil {
		err = mapMFAError(err)
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, AuditMFAVerifyFailed, false, user.ID, err, nil)
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	return e.completeLogin(ctx, user, false)
}

// completeLogin enforces the session cap, checks the device and either stops
// at the MFA step or issues a session.
func (e *Engine) completeLogin(ctx context.Context, user *User, mfaPending bool) (*LoginResult, error) {
	_, evicted, err := e.sessions.ManageActiveSessions(ctx, user.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	e.metrics.Add(MetricSessionEvicted, evicted)

	fingerprint := e.deviceFingerprint(ctx, user.ID)
	isNew, err := e.sessions.IsNewDevice(ctx, user.ID, fingerprint)
	if err != nil {
		return nil, unavailable(err)
	}

	if mfaPending && user.MFAActive && isNew {
		temp, err := e.minter.MintTemporary(jwt.Subject{ID: user.ID, Email: user.Email})
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, AuditMFARequired, true, user.ID, nil, nil)
		return &LoginResult{
			UserID:      user.ID,
			TempToken:   temp,
			MFARequired: true,
			IsNewDevice: true,
		}, nil
	}

	access, refresh, err := e.issueSession(ctx, user, fingerprint)
	if err != nil {
		return nil, err
	}

	if isNew {
		e.notify(notify.Message{
			Kind:   notify.KindDeviceLogin,
			To:     user.Email,
			UserID: user.ID,
			Data: map[string]string{
				"ip":     clientIPFromContext(ctx),
				"device": userAgentFromContext(ctx),
			},
		})
	}

	action := AuditLoginSuccess
	if !mfaPending {
		action = AuditLoginMFAVerified
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, action, true, user.ID, nil, func() map[string]string {
		if isNew {
			return map[string]string{"new_device": "true"}
		}
		return nil
	})

	return &LoginResult{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		IsNewDevice:  isNew,
	}, nil
}

// loginFailure records a failed attempt and returns cause, or
// ErrStoreUnavailable when the attempt could not be recorded.
func (e *Engine) loginFailure(ctx context.Context, userID, email string, cause error) error {
	if err := e.lockout.RecordAttempt(ctx, userID, clientIPFromContext(ctx), email, false); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLoginFailed, false, userID, cause, func() map[string]string {
		return map[string]string{"email": email}
	})
	return cause
}

func (e *Engine) rehashIfNeeded(ctx context.Context, user *User, plain string) {
	if !e.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("password rehash failed")
		return
	}
	if err := e.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("password rehash not stored")
		return
	}
	user.PasswordHash = hash
}
