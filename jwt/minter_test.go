package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func testConfig() Config {
	return Config{
		Access:    KeyConfig{Secret: []byte("access-secret-access-secret-0001"), Issuer: "authentication-service", Audience: "api-access", TTL: 7 * time.Minute},
		Refresh:   KeyConfig{Secret: []byte("refresh-secret-refresh-secret-01"), Issuer: "authentication-service", Audience: "refresh-token", TTL: 7 * 24 * time.Hour},
		Temporary: KeyConfig{Secret: []byte("temp-secret-temp-secret-temp-001"), Issuer: "authentication-service", Audience: "mfa-verification", TTL: 10 * time.Minute},
	}
}

func newTestMinter(t *testing.T) *Minter {
	t.Helper()
	m, err := NewMinter(testConfig())
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}
	return m
}

func TestMintAndVerifyEachKind(t *testing.T) {
	m := newTestMinter(t)
	sub := Subject{ID: "u-1", Email: "a@example.com"}

	access, err := m.MintAccess(sub)
	if err != nil {
		t.Fatalf("mint access: %v", err)
	}
	claims, err := m.Verify(access, KindAccess)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID() != "u-1" || claims.Email != "a@example.com" || claims.Type != KindAccess {
		t.Fatalf("unexpected access claims: %+v", claims)
	}

	refresh, jti, err := m.MintRefresh(sub)
	if err != nil {
		t.Fatalf("mint refresh: %v", err)
	}
	if len(jti) != 32 {
		t.Fatalf("expected 128-bit hex jti, got %q", jti)
	}
	claims, err = m.Verify(refresh, KindRefresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if claims.JTI() != jti {
		t.Fatalf("expected jti %q, got %q", jti, claims.JTI())
	}
	if claims.Email != "" {
		t.Fatal("refresh token must not carry email")
	}

	temp, err := m.MintTemporary(sub)
	if err != nil {
		t.Fatalf("mint temporary: %v", err)
	}
	if _, err := m.Verify(temp, KindTemporary); err != nil {
		t.Fatalf("verify temporary: %v", err)
	}
}

func TestRefreshJTIsAreUnique(t *testing.T) {
	m := newTestMinter(t)
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		_, jti, err := m.MintRefresh(Subject{ID: "u-1"})
		if err != nil {
			t.Fatalf("mint refresh: %v", err)
		}
		if _, dup := seen[jti]; dup {
			t.Fatalf("duplicate jti %q", jti)
		}
		seen[jti] = struct{}{}
	}
}

func TestVerifyRejectsCrossKindUse(t *testing.T) {
	m := newTestMinter(t)
	sub := Subject{ID: "u-1", Email: "a@example.com"}

	temp, _ := m.MintTemporary(sub)
	access, _ := m.MintAccess(sub)
	refresh, _, _ := m.MintRefresh(sub)

	cases := []struct {
		name  string
		token string
		kind  Kind
	}{
		{"temporary as access", temp, KindAccess},
		{"temporary as refresh", temp, KindRefresh},
		{"access as temporary", access, KindTemporary},
		{"access as refresh", access, KindRefresh},
		{"refresh as access", refresh, KindAccess},
	}
	for _, tc := range cases {
		if _, err := m.Verify(tc.token, tc.kind); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", tc.name, err)
		}
	}
}

func TestVerifyReportsExpiry(t *testing.T) {
	m := newTestMinter(t)
	now := time.Now()
	m.WithClock(func() time.Time { return now })

	access, err := m.MintAccess(Subject{ID: "u-1"})
	if err != nil {
		t.Fatalf("mint access: %v", err)
	}

	m.WithClock(func() time.Time { return now.Add(8 * time.Minute) })
	if _, err := m.Verify(access, KindAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsTamperedAndForeignTokens(t *testing.T) {
	m := newTestMinter(t)
	access, _ := m.MintAccess(Subject{ID: "u-1"})

	parts := strings.Split(access, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := m.Verify(tampered, KindAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected tampered signature to be invalid, got %v", err)
	}

	foreign := gjwt.NewWithClaims(gjwt.SigningMethodHS256, Claims{
		Type: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "someone-else",
			Audience:  gjwt.ClaimStrings{"api-access"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, err := foreign.SignedString(testConfig().Access.Secret)
	if err != nil {
		t.Fatalf("sign foreign token: %v", err)
	}
	if _, err := m.Verify(signed, KindAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected wrong issuer to be invalid, got %v", err)
	}

	if _, err := m.Verify("not-a-token", KindAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected garbage to be invalid, got %v", err)
	}
}

func TestDecodeUnsafeIgnoresSignature(t *testing.T) {
	m := newTestMinter(t)
	refresh, jti, _ := m.MintRefresh(Subject{ID: "u-9"})

	parts := strings.Split(refresh, ".")
	unsigned := parts[0] + "." + parts[1] + ".c2lnbmF0dXJl"

	claims := m.DecodeUnsafe(unsigned)
	if claims == nil {
		t.Fatal("expected payload to decode")
	}
	if claims.UserID() != "u-9" || claims.JTI() != jti {
		t.Fatalf("unexpected decoded claims: %+v", claims)
	}
	if DecodeUnsafe("garbage") != nil {
		t.Fatal("expected nil for malformed token")
	}
}

func TestNewMinterRejectsSharedSecretsAndAudiences(t *testing.T) {
	cfg := testConfig()
	cfg.Temporary.Secret = cfg.Access.Secret
	if _, err := NewMinter(cfg); err == nil {
		t.Fatal("expected shared secret to be rejected")
	}

	cfg = testConfig()
	cfg.Refresh.Audience = cfg.Access.Audience
	if _, err := NewMinter(cfg); err == nil {
		t.Fatal("expected shared audience to be rejected")
	}

	cfg = testConfig()
	cfg.Access.TTL = 0
	if _, err := NewMinter(cfg); err == nil {
		t.Fatal("expected zero ttl to be rejected")
	}
}
