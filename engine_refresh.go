package authbroker

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authbroker/internal/rate"
	"github.com/MrEthical07/authbroker/jwt"
	"github.com/MrEthical07/authbroker/session"
)

// Refresh rotates a refresh token. The replacement session is saved before the
// presented one is deleted, so a failure between the two leaves the user
// logged in rather than locked out. A rotated token is rejected on any
// later use.
//
// Deleting the presented record is the commit point: of several callers
// racing with the same token only the one whose delete removes the record
// wins. The others drop the session they just saved and are rejected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims := jwt.DecodeUnsafe(refreshToken)
	if claims == nil || claims.UserID() == "" {
		return nil, e.rejectRefresh(ctx, "", ErrInvalidRefreshTokenFormat)
	}
	userID := claims.UserID()

	if err := e.checkRate(ctx, rate.ActionRefresh, rate.RefreshKey(userID), e.cfg.RateLimit.Refresh, userID, ""); err != nil {
		return nil, err
	}

	id, err := e.sessions.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, e.rejectRefresh(ctx, userID, mapSessionError(err))
	}

	verified, err := e.minter.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		return nil, e.rejectRefreshWith(ctx, userID, ErrRefreshTokenExpiredOrInvalid, tokenFailureKind(err))
	}
	if verified.UserID() != id.UserID || verified.JTI() != id.JTI {
		return nil, e.rejectRefreshWith(ctx, userID, ErrRefreshTokenExpiredOrInvalid, "TOKEN_INVALID")
	}

	user, err := e.lookupUser(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.rejectRefresh(ctx, userID, ErrRefreshTokenExpiredOrInvalid)
		}
		return nil, err
	}

	access, refresh, err := e.issueSession(ctx, user, e.deviceFingerprint(ctx, user.ID))
	if err != nil {
		return nil, err
	}

	n, err := e.sessions.DeleteToken(ctx, id.UserID, id.JTI)
	if err != nil {
		e.log.Warn().Err(err).
			Str("user_id", id.UserID).
			Str("jti", id.JTI).
			Msg("rotated refresh token not deleted")
	}
	if err == nil && n == 0 {
		// Rotated by a concurrent caller, or expired since validation.
		e.dropIssuedSession(ctx, id.UserID, refresh)
		return nil, e.rejectRefreshWith(ctx, userID, ErrRefreshTokenExpiredOrInvalid, "TOKEN_REUSED")
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditTokenRefreshed, true, user.ID, nil, nil)

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout ends the session behind refreshToken. It is idempotent: an already
// removed session is not an error.
func (e *Engine) Logout(ctx context.Context, userID, refreshToken string) error {
	claims := jwt.DecodeUnsafe(refreshToken)
	if claims == nil || claims.JTI() == "" || claims.UserID() != userID {
		return ErrInvalidRefreshTokenFormat
	}

	n, err := e.sessions.DeleteToken(ctx, userID, claims.JTI())
	if err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricLogout)
	e.metrics.Add(MetricSessionRevoked, n)
	e.emitAudit(ctx, AuditLogout, true, userID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	n, err := e.sessions.RevokeAllSessions(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}

	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionRevoked, n)
	e.emitAudit(ctx, AuditAllSessionsRevoked, true, userID, nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}

// ListSessions returns the live sessions of userID, oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	records, err := e.sessions.GetActiveSessions(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Session, 0, len(records))
	for _, r := range records {
		out = append(out, Session{
			JTI:        r.JTI,
			IP:         r.IP,
			Device:     r.Device,
			CreatedAt:  r.CreatedAt,
			LastSeenAt: r.LastSeenAt,
		})
	}
	return out, nil
}

// RevokeSession ends one session of userID by its id.
func (e *Engine) RevokeSession(ctx context.Context, userID, jti string) error {
	if jti == "" {
		return ErrAllFieldsRequired
	}
	if _, err := e.sessions.RevokeSession(ctx, userID, jti); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return unavailable(err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditSessionRevoke, true, userID, nil, func() map[string]string {
		return map[string]string{"jti": jti}
	})
	return nil
}

func (e *Engine) rejectRefresh(ctx context.Context, userID string, err error) error {
	return e.rejectRefreshWith(ctx, userID, err, "")
}

// rejectRefreshWith records why a refresh failed. reason lands in the audit
// metadata only; callers always see err.
func (e *Engine) rejectRefreshWith(ctx context.Context, userID string, err error, reason string) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	e.metricInc(MetricRefreshFailure)
	var metadata func() map[string]string
	if reason != "" {
		metadata = func() map[string]string {
			return map[string]string{"reason": reason}
		}
	}
	e.emitAudit(ctx, AuditRefreshRejected, false, userID, err, metadata)
	return err
}

func (e *Engine) dropIssuedSession(ctx context.Context, userID, refresh string) {
	claims := jwt.DecodeUnsafe(refresh)
	if claims == nil {
		return
	}
	if _, err := e.sessions.DeleteToken(ctx, userID, claims.JTI()); err != nil {
		e.log.Warn().Err(err).
			Str("user_id", userID).
			Str("jti", claims.JTI()).
			Msg("losing refresh session not deleted")
	}
}

func tokenFailureKind(err error) string {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "TOKEN_EXPIRED"
	}
	return "TOKEN_INVALID"
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidTokenFormat):
		return ErrInvalidRefreshTokenFormat
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrTokenMismatch):
		return ErrRefreshTokenExpiredOrInvalid
	default:
		return unavailable(err)
	}
}
