package authbroker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/authbroker/notify"
)

func TestLoginIssuesTokenPairAndSession(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "alice@example.com", "correct-horse", true)
	ctx := clientCtx("10.0.0.1", "agent-A")

	res, err := env.engine.Login(ctx, "  Alice@Example.com ", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.MFARequired {
		t.Fatalf("unexpected login result %+v", res)
	}
	if !res.IsNewDevice {
		t.Fatal("first login must be from a new device")
	}

	claims, err := env.engine.ValidateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.UserID() != "u1" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if n := env.sessionCount(t, "u1"); n != 1 {
		t.Fatalf("expected one session, got %d", n)
	}

	msg := env.waitMessage(t, notify.KindDeviceLogin)
	if msg.To != "alice@example.com" || msg.Data["ip"] != "10.0.0.1" || msg.Data["device"] != "agent-A" {
		t.Fatalf("unexpected device notification %+v", msg)
	}
	env.waitAudit(t, AuditLoginSuccess)

	again, err := env.engine.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.IsNewDevice {
		t.Fatal("second login from the same agent must be a known device")
	}
}

func TestLoginRequiresFields(t *testing.T) {
	env := newTestEngine(t, nil)
	if _, err := env.engine.Login(context.Background(), "", "x"); !errors.Is(err, ErrAllFieldsRequired) {
		t.Fatalf("expected ErrAllFieldsRequired, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), "a@example.com", ""); !errors.Is(err, ErrAllFieldsRequired) {
		t.Fatalf("expected ErrAllFieldsRequired, got %v", err)
	}
}

func TestLoginInvalidCredentialsAreIndistinguishable(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "alice@example.com", "correct-horse", true)
	ctx := clientCtx("10.0.0.1", "agent-A")

	_, errUnknown := env.engine.Login(ctx, "nobody@example.com", "whatever-pass")
	_, errWrong := env.engine.Login(ctx, "alice@example.com", "wrong-password")
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials twice, got %v and %v", errUnknown, errWrong)
	}

	for _, email := range []string{"nobody@example.com", "alice@example.com"} {
		n, err := env.rdb.ZCard(context.Background(), "loginattempts:email:"+email).Result()
		if err != nil || n != 1 {
			t.Fatalf("expected one recorded failure for %s, got %d (%v)", email, n, err)
		}
	}
}

func TestLoginUnverifiedEmailRecordsFailure(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "bob@example.com", "correct-horse", false)
	ctx := clientCtx("10.0.0.2", "agent-A")

	_, err := env.engine.Login(ctx, "bob@example.com", "correct-horse")
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
	if ErrorCode(err) != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("unexpected code %s", ErrorCode(err))
	}
	n, _ := env.rdb.ZCard(context.Background(), "loginattempts:email:bob@example.com").Result()
	if n != 1 {
		t.Fatalf("expected one recorded attempt, got %d", n)
	}
	if env.sessionCount(t, "u1") != 0 {
		t.Fatal("no session may be created for an unverified account")
	}
}

func TestLoginLocksAfterThresholdFailures(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "carol@example.com", "correct-horse", true)

	for i := 0; i < 5; i++ {
		ctx := clientCtx(fmt.Sprintf("10.0.1.%d", i), "agent-A")
		if _, err := env.engine.Login(ctx, "carol@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
		env.clock.Advance(time.Second)
	}

	_, err := env.engine.Login(clientCtx("10.0.2.1", "agent-A"), "carol@example.com", "correct-horse")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected *LockedError, got %v", err)
	}
	if !errors.Is(err, ErrAccountLocked) || locked.MinutesRemaining < 1 || locked.MinutesRemaining > 15 {
		t.Fatalf("unexpected lock %+v", locked)
	}
	env.waitAudit(t, AuditAccountLocked)

	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.Login(clientCtx("10.0.2.1", "agent-A"), "carol@example.com", "correct-horse"); err != nil {
		t.Fatalf("expected lock to lift after the window, got %v", err)
	}
}

func TestLoginRateLimitedWarnsOwner(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.RateLimit.Login = RateRule{Limit: 2, Window: time.Minute}
	})
	env.seedUser(t, "u1", "dave@example.com", "correct-horse", true)
	ctx := clientCtx("10.0.0.3", "agent-A")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "dave@example.com", "correct-horse"); err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
	}
	_, err := env.engine.Login(ctx, "dave@example.com", "correct-horse")
	var rerr *RateLimitError
	if !errors.As(err, &rerr) || rerr.Action != "login" {
		t.Fatalf("expected login RateLimitError, got %v", err)
	}
	if rerr.RetryAfter <= 0 || rerr.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", rerr.RetryAfter)
	}

	env.waitMessage(t, notify.KindSecurityWarning)
	ev := env.waitAudit(t, AuditRateLimitHit)
	if ev.Error != "RATE_LIMIT_EXCEEDED" || ev.Metadata["action"] != "login" {
		t.Fatalf("unexpected audit event %+v", ev)
	}
	if env.engine.MetricsSnapshot().Counters[MetricLoginRateLimited] != 1 {
		t.Fatal("expected rate-limited login to be counted")
	}
}

func TestLoginWithMFAOnNewDeviceWithholdsTokens(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "erin@example.com", "correct-horse", true)
	secret := env.enableMFA(t, "u1", "erin@example.com")
	ctx := clientCtx("10.0.0.4", "agent-B")

	res, err := env.engine.Login(ctx, "erin@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.MFARequired || res.TempToken == "" || res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatalf("expected temp token only, got %+v", res)
	}
	if env.sessionCount(t, "u1") != 0 {
		t.Fatal("no session may exist before the second factor")
	}
	if _, err := env.engine.ValidateAccess(res.TempToken); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("temp token must not pass as an access token, got %v", err)
	}

	wrong := env.codeAt(t, secret, env.clock.Now().Add(10*time.Minute))
	if _, err := env.engine.VerifyMFALogin(ctx, res.TempToken, wrong); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	done, err := env.engine.VerifyMFALogin(ctx, res.TempToken, env.code(t, secret))
	if err != nil {
		t.Fatalf("verify mfa login: %v", err)
	}
	if done.AccessToken == "" || done.RefreshToken == "" {
		t.Fatalf("expected full tokens, got %+v", done)
	}
	env.waitAudit(t, AuditLoginMFAVerified)

	known, err := env.engine.Login(ctx, "erin@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login from known device: %v", err)
	}
	if known.MFARequired || known.AccessToken == "" {
		t.Fatalf("known device must not require mfa, got %+v", known)
	}
}

func TestVerifyMFALoginRejectsAccessToken(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "frank@example.com", "correct-horse", true)
	ctx := clientCtx("10.0.0.5", "agent-A")

	res, err := env.engine.Login(ctx, "frank@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.VerifyMFALogin(ctx, res.AccessToken, "123456"); !errors.Is(err, ErrTempTokenInvalid) {
		t.Fatalf("expected ErrTempTokenInvalid, got %v", err)
	}
}

func TestTempTokenExpires(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "gina@example.com", "correct-horse", true)
	secret := env.enableMFA(t, "u1", "gina@example.com")
	ctx := clientCtx("10.0.0.6", "agent-A")

	res, err := env.engine.Login(ctx, "gina@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	env.clock.Advance(11 * time.Minute)
	if _, err := env.engine.VerifyMFALogin(ctx, res.TempToken, env.code(t, secret)); !errors.Is(err, ErrTempTokenExpired) {
		t.Fatalf("expected ErrTempTokenExpired, got %v", err)
	}
}

func TestSessionCapEvictsOldestSession(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "hank@example.com", "correct-horse", true)
	ctx := clientCtx("10.0.0.7", "agent-A")

	var first string
	for i := 0; i < 7; i++ {
		res, err := env.engine.Login(ctx, "hank@example.com", "correct-horse")
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		if i == 0 {
			first = res.RefreshToken
		}
		if n := env.sessionCount(t, "u1"); n > 5 {
			t.Fatalf("session cap exceeded: %d", n)
		}
		env.clock.Advance(time.Second)
	}

	if _, err := env.engine.Refresh(ctx, first); !errors.Is(err, ErrRefreshTokenExpiredOrInvalid) {
		t.Fatalf("expected evicted session to be rejected, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricSessionEvicted]; got != 2 {
		t.Fatalf("expected 2 evictions, got %d", got)
	}
}

func TestLoginStoreOutageIsNotAnAuthFailure(t *testing.T) {
	env := newTestEngine(t, nil)
	env.seedUser(t, "u1", "ivy@example.com", "correct-horse", true)
	env.mr.Close()

	_, err := env.engine.Login(clientCtx("10.0.0.8", "agent-A"), "ivy@example.com", "wrong-password")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountLocked) {
		t.Fatalf("outage must not look like an auth failure: %v", err)
	}
}

func TestLoginRehashesLegacyHash(t *testing.T) {
	env := newTestEngine(t, func(cfg *Config) {
		cfg.Password.Iterations = 2
	})
	env.seedUser(t, "u1", "jan@example.com", "correct-horse", true)

	old, err := mustHasher(t, 1).Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := env.users.SetPasswordHash(context.Background(), "u1", old); err != nil {
		t.Fatalf("store hash: %v", err)
	}

	if _, err := env.engine.Login(clientCtx("10.0.0.9", "agent-A"), "jan@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if env.users.get("u1").PasswordHash == old {
		t.Fatal("expected the hash to be upgraded on login")
	}
}
