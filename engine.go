package authbroker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authbroker/internal/audit"
	"github.com/MrEthical07/authbroker/internal/limiters"
	"github.com/MrEthical07/authbroker/internal/logger"
	"github.com/MrEthical07/authbroker/internal/rate"
	"github.com/MrEthical07/authbroker/internal/stores"
	"github.com/MrEthical07/authbroker/jwt"
	"github.com/MrEthical07/authbroker/mfa"
	"github.com/MrEthical07/authbroker/notify"
	"github.com/MrEthical07/authbroker/password"
	"github.com/MrEthical07/authbroker/session"
)

// Engine orchestrates login, refresh, logout, MFA and account recovery over
// the token minter, session store, rate limiter, lockout tracker and MFA
// engine. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	cfg   Config
	users UserStore

	minter   *jwt.Minter
	sessions *session.Store
	limiter  *rate.Limiter
	lockout  *limiters.LockoutTracker
	mfa      *mfa.Engine
	hasher   *password.Hasher

	verifyTokens *stores.TokenStore
	resetTokens  *stores.TokenStore

	audit    *audit.Dispatcher
	notifier *notify.Dispatcher
	metrics  *Metrics
	log      *logger.Logger
	now      func() time.Time
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close drains the audit and notification queues. ctx bounds how long pending
// notifications may take.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.audit.Close()
	if e.notifier != nil {
		return e.notifier.Close(ctx)
	}
	return nil
}

// Ping checks the key-value store.
func (e *Engine) Ping(ctx context.Context) error {
	return unavailable(e.sessions.Ping(ctx))
}

// MetricsSnapshot returns the current engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// ValidateAccess verifies an access token and returns its claims.
func (e *Engine) ValidateAccess(token string) (*jwt.Claims, error) {
	claims, err := e.minter.Verify(token, jwt.KindAccess)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrAccessTokenExpired
	default:
		return nil, ErrAccessTokenInvalid
	}
}

// ValidateTemporary verifies an MFA-pending token and returns its claims.
func (e *Engine) ValidateTemporary(token string) (*jwt.Claims, error) {
	claims, err := e.minter.Verify(token, jwt.KindTemporary)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTempTokenExpired
	default:
		return nil, ErrTempTokenInvalid
	}
}

// RefreshTTL is the lifetime of refresh tokens and of the cookie carrying them.
func (e *Engine) RefreshTTL() time.Duration {
	return e.minter.TTL(jwt.KindRefresh)
}

// checkRate applies policy to key. A block is audited and returned as
// *RateLimitError.
func (e *Engine) checkRate(ctx context.Context, action rate.Action, key string, rule RateRule, userID, email string) error {
	decision, err := e.limiter.Check(ctx, key, rate.Policy{Limit: rule.Limit, Window: rule.Window})
	if err != nil {
		return unavailable(err)
	}
	if decision.Allowed {
		return nil
	}
	rerr := &RateLimitError{Action: string(action), RetryAfter: decision.TTLRemaining}
	e.emitRateLimit(ctx, rerr, userID, email)
	return rerr
}

// issueSession mints a token pair and registers the refresh token.
func (e *Engine) issueSession(ctx context.Context, user *User, fingerprint string) (string, string, error) {
	sub := jwt.Subject{ID: user.ID, Email: user.Email}
	access, err := e.minter.MintAccess(sub)
	if err != nil {
		return "", "", err
	}
	refresh, _, err := e.minter.MintRefresh(sub)
	if err != nil {
		return "", "", err
	}
	if _, err := e.sessions.Save(ctx, user.ID, refresh, clientIPFromContext(ctx), userAgentFromContext(ctx), fingerprint); err != nil {
		return "", "", unavailable(err)
	}
	e.metricInc(MetricSessionCreated)
	return access, refresh, nil
}

func (e *Engine) deviceFingerprint(ctx context.Context, userID string) string {
	return session.Fingerprint(userID, userAgentFromContext(ctx))
}

func (e *Engine) mfaAccount(user *User) mfa.Account {
	return mfa.Account{
		UserID: user.ID,
		Email:  user.Email,
		Secret: user.MFASecret,
		Active: user.MFAActive,
	}
}

// lookupUser maps store errors so that only ErrUserNotFound and
// ErrStoreUnavailable escape.
func (e *Engine) lookupUser(ctx context.Context, id string) (*User, error) {
	user, err := e.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable(err)
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
