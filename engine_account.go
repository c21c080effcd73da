package authbroker

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/authbroker/internal/rate"
	"github.com/MrEthical07/authbroker/internal/stores"
	"github.com/MrEthical07/authbroker/notify"
	"github.com/MrEthical07/authbroker/password"
)

// Register creates an unverified account and sends its verification token.
func (e *Engine) Register(ctx context.Context, email, plain, confirm string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || plain == "" || confirm == "" {
		return nil, ErrAllFieldsRequired
	}
	if plain != confirm {
		return nil, ErrPasswordsDoNotMatch
	}

	hash, err := e.hashPassword(plain)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return nil, ErrUserExists
		}
		return nil, unavailable(err)
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, AuditUserRegistered, true, user.ID, nil, nil)

	if err := e.sendVerification(ctx, user); err != nil {
		// The account exists; the caller can ask for a resend.
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("verification token not issued")
	}
	return user, nil
}

// VerifyEmail redeems a verification token. Tokens are single use.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	userID, err := e.verifyTokens.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return unavailable(err)
	}

	if err := e.users.SetEmailVerified(ctx, userID, true); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return unavailable(err)
	}

	e.emitAudit(ctx, AuditEmailVerified, true, userID, nil, nil)
	return nil
}

// ResendVerification replaces the outstanding verification token of email.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrAllFieldsRequired
	}
	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return unavailable(err)
	}
	if user.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	return e.sendVerification(ctx, user)
}

func (e *Engine) sendVerification(ctx context.Context, user *User) error {
	token, err := e.verifyTokens.Issue(ctx, user.ID)
	if err != nil {
		return unavailable(err)
	}
	e.notify(notify.Message{
		Kind:   notify.KindVerifyEmail,
		To:     user.Email,
		UserID: user.ID,
		Data:   map[string]string{"token": token},
	})
	e.emitAudit(ctx, AuditEmailVerificationSent, true, user.ID, nil, nil)
	return nil
}

// ForgotPassword sends a reset token when email belongs to an account. The
// result is the same whether or not it does; only rate limiting and store
// outages surface as errors.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrAllFieldsRequired
	}
	if err := e.checkRate(ctx, rate.ActionForgotPassword, rate.ForgotPasswordKey(clientIPFromContext(ctx), email), e.cfg.RateLimit.ForgotPassword, "", email); err != nil {
		return err
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, AuditPasswordResetRequested, false, "", err, nil)
			return nil
		}
		return unavailable(err)
	}

	token, err := e.resetTokens.Issue(ctx, user.ID)
	if err != nil {
		return unavailable(err)
	}
	e.notify(notify.Message{
		Kind:   notify.KindResetPassword,
		To:     user.Email,
		UserID: user.ID,
		Data:   map[string]string{"token": token},
	})
	e.emitAudit(ctx, AuditPasswordResetRequested, true, user.ID, nil, nil)
	return nil
}

// ResetPassword sets a new password with a reset token and revokes every
// session of the account.
//
// The token is resolved before it is consumed so the confirm rate limit can
// be keyed by the account email; unresolvable tokens share the "-" bucket of
// the caller's ip.
func (e *Engine) ResetPassword(ctx context.Context, token, plain, confirm string) error {
	if token == "" || plain == "" || confirm == "" {
		return ErrAllFieldsRequired
	}

	userID, err := e.resetTokens.Peek(ctx, token)
	if err != nil && !errors.Is(err, stores.ErrTokenNotFound) {
		return unavailable(err)
	}

	var user *User
	bucket := "-"
	if userID != "" {
		user, err = e.lookupUser(ctx, userID)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return err
		}
		if user != nil {
			bucket = user.Email
		}
	}

	if err := e.checkRate(ctx, rate.ActionResetPasswordConfirm, rate.ResetPasswordConfirmKey(clientIPFromContext(ctx), bucket), e.cfg.RateLimit.ResetPasswordConfirm, userID, ""); err != nil {
		return err
	}

	if user == nil {
		e.emitAudit(ctx, AuditPasswordResetFailed, false, userID, ErrInvalidOrExpiredToken, nil)
		return ErrInvalidOrExpiredToken
	}
	if plain != confirm {
		e.emitAudit(ctx, AuditPasswordResetFailed, false, user.ID, ErrPasswordsDoNotMatch, nil)
		return ErrPasswordsDoNotMatch
	}
	hash, err := e.hashPassword(plain)
	if err != nil {
		e.emitAudit(ctx, AuditPasswordResetFailed, false, user.ID, err, nil)
		return err
	}

	if _, err := e.resetTokens.Consume(ctx, token); err != nil {
		if errors.Is(err, stores.ErrTokenNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return unavailable(err)
	}

	if err := e.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return unavailable(err)
	}
	n, err := e.sessions.RevokeAllSessions(ctx, user.ID)
	if err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricPasswordReset)
	e.metrics.Add(MetricSessionRevoked, n)
	e.emitAudit(ctx, AuditPasswordResetCompleted, true, user.ID, nil, nil)
	return nil
}

// ChangePassword replaces the password of a signed-in user.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, plain, confirm string) error {
	if current == "" || plain == "" || confirm == "" {
		return ErrAllFieldsRequired
	}
	if plain != confirm {
		return ErrPasswordsDoNotMatch
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(current, user.PasswordHash)
	if errors.Is(err, password.ErrMalformedHash) {
		e.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash unreadable")
	}
	if !ok {
		e.emitAudit(ctx, AuditPasswordChangeFailed, false, user.ID, ErrInvalidCurrentPassword, nil)
		return ErrInvalidCurrentPassword
	}

	hash, err := e.hashPassword(plain)
	if err != nil {
		e.emitAudit(ctx, AuditPasswordChangeFailed, false, user.ID, err, nil)
		return err
	}
	if err := e.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return unavailable(err)
	}
	// A reset link requested before the change would undo it.
	if err := e.resetTokens.Invalidate(ctx, user.ID); err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("pending reset token not invalidated")
	}

	e.metricInc(MetricPasswordChange)
	e.emitAudit(ctx, AuditPasswordChanged, true, user.ID, nil, nil)
	return nil
}

// Status summarizes the account of userID. The session count prunes expired
// sessions as a side effect.
func (e *Engine) Status(ctx context.Context, userID string) (*AccountStatus, error) {
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := e.sessions.GetActiveSessions(ctx, user.ID)
	if err != nil {
		return nil, unavailable(err)
	}

	return &AccountStatus{
		Email:          user.Email,
		EmailVerified:  user.EmailVerified,
		MFAState:       e.mfaAccount(user).State().String(),
		MFAActive:      user.MFAActive,
		ActiveSessions: len(records),
	}, nil
}

func (e *Engine) hashPassword(plain string) (string, error) {
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			return "", ErrWeakPassword
		}
		return "", err
	}
	return hash, nil
}
