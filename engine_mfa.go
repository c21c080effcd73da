package authbroker

import (
	"context"
	"errors"

	"github.com/MrEthical07/authbroker/internal/rate"
	"github.com/MrEthical07/authbroker/mfa"
)

// MFAState reports the MFA state of userID.
func (e *Engine) MFAState(ctx context.Context, userID string) (mfa.State, error) {
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return mfa.NotConfigured, err
	}
	return e.mfaAccount(user).State(), nil
}

// SetupMFA provisions a new TOTP secret. MFA stays inactive until ConfirmMFA
// succeeds, so a pending secret never gates or bypasses login.
func (e *Engine) SetupMFA(ctx context.Context, userID string) (*MFASetup, error) {
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	prov, err := e.mfa.Setup(ctx, e.mfaAccount(user))
	if err != nil {
		err = mapMFAError(err)
		e.emitAudit(ctx, AuditMFASetupFailed, false, user.ID, err, nil)
		return nil, err
	}

	e.emitAudit(ctx, AuditMFASetupInitiated, true, user.ID, nil, nil)
	return &MFASetup{Secret: prov.Secret, OTPAuthURL: prov.URI, QRCode: prov.QRCode}, nil
}

// ConfirmMFA activates MFA when code verifies against the pending secret.
func (e *Engine) ConfirmMFA(ctx context.Context, userID, code string) error {
	if code == "" {
		return ErrAllFieldsRequired
	}
	if err := e.checkRate(ctx, rate.ActionMFAVerify, rate.MFAVerifyKey(userID, clientIPFromContext(ctx)), e.cfg.RateLimit.MFAVerify, userID, ""); err != nil {
		return err
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := e.mfa.ConfirmSetup(ctx, e.mfaAccount(user), code); err != nil {
		err = mapMFAError(err)
		if errors.Is(err, ErrInvalidMFACode) {
			e.metricInc(MetricMFAFailure)
		}
		e.emitAudit(ctx, AuditMFASetupFailed, false, user.ID, err, nil)
		return err
	}

	e.emitAudit(ctx, AuditMFAEnabled, true, user.ID, nil, nil)
	return nil
}

// ResetMFA disables MFA and revokes every session of the user.
func (e *Engine) ResetMFA(ctx context.Context, userID string) error {
	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := e.mfa.Reset(ctx, e.mfaAccount(user)); err != nil {
		return mapMFAError(err)
	}

	e.emitAudit(ctx, AuditMFADisabled, true, user.ID, nil, nil)
	return nil
}

func mapMFAError(err error) error {
	switch {
	case errors.Is(err, mfa.ErrAlreadySetup):
		return ErrMFAAlreadySetup
	case errors.Is(err, mfa.ErrNotSetup):
		return ErrMFANotSetup
	case errors.Is(err, mfa.ErrNotEnabled):
		return ErrMFANotEnabled
	case errors.Is(err, mfa.ErrInvalidCode):
		return ErrInvalidMFACode
	case errors.Is(err, ErrUserNotFound):
		return ErrUserNotFound
	default:
		return unavailable(err)
	}
}
