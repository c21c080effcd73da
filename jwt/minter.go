package jwt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind identifies which of the three token families a token belongs to. It is
// also written into the "type" claim.
type Kind string

const (
	// KindAccess marks short-lived bearer tokens accepted by protected endpoints.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens that can only be exchanged for a new pair.
	KindRefresh Kind = "refresh"
	// KindTemporary marks tokens issued in place of a full pair while MFA is pending.
	KindTemporary Kind = "mfa-pending"
)

const jtiBytes = 16

var (
	// ErrTokenExpired is returned by Verify when the token is well formed and
	// correctly signed but past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned by Verify for bad signatures, wrong issuer or
	// audience, malformed input, and kind mismatches.
	ErrTokenInvalid = errors.New("token invalid")
)

// KeyConfig holds the signing material and claim bindings of one token kind.
type KeyConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Config groups the per-kind settings of a [Minter].
type Config struct {
	Access    KeyConfig
	Refresh   KeyConfig
	Temporary KeyConfig
	// Leeway tolerates small clock skew between minting and verifying hosts.
	Leeway time.Duration
}

// Subject is the identity a token is minted for.
type Subject struct {
	ID    string
	Email string
}

// Claims is the payload shared by every token kind. Email is only set on
// access tokens; ID (jti) only on refresh tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Type  Kind   `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the subject the token was minted for.
func (c *Claims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// JTI returns the refresh-token identifier, empty for other kinds.
func (c *Claims) JTI() string {
	if c == nil {
		return ""
	}
	return c.ID
}

// Minter creates and verifies signed tokens. It is safe for concurrent use.
type Minter struct {
	config Config
	now    func() time.Time
}

// NewMinter validates cfg and returns a ready [Minter].
//
// Secrets must be present and pairwise distinct, and no two kinds may share
// an audience, otherwise a token for one purpose could be replayed at another.
func NewMinter(cfg Config) (*Minter, error) {
	kinds := map[Kind]KeyConfig{
		KindAccess:    cfg.Access,
		KindRefresh:   cfg.Refresh,
		KindTemporary: cfg.Temporary,
	}
	secrets := make(map[string]Kind, len(kinds))
	audiences := make(map[string]Kind, len(kinds))
	for kind, kc := range kinds {
		if len(kc.Secret) == 0 {
			return nil, fmt.Errorf("%s token secret is required", kind)
		}
		if kc.TTL <= 0 {
			return nil, fmt.Errorf("%s token ttl must be positive", kind)
		}
		if strings.TrimSpace(kc.Issuer) == "" || strings.TrimSpace(kc.Audience) == "" {
			return nil, fmt.Errorf("%s token issuer and audience are required", kind)
		}
		if other, dup := secrets[string(kc.Secret)]; dup {
			return nil, fmt.Errorf("%s and %s tokens share a signing secret", other, kind)
		}
		secrets[string(kc.Secret)] = kind
		if other, dup := audiences[kc.Audience]; dup {
			return nil, fmt.Errorf("%s and %s tokens share an audience", other, kind)
		}
		audiences[kc.Audience] = kind
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Minter{config: cfg, now: time.Now}, nil
}

// WithClock replaces the time source used for minting and verification.
// It exists for tests and returns the receiver for chaining.
func (m *Minter) WithClock(now func() time.Time) *Minter {
	if now != nil {
		m.now = now
	}
	return m
}

// MintAccess issues a short-lived access token carrying subject id and email.
func (m *Minter) MintAccess(sub Subject) (string, error) {
	return m.mint(KindAccess, sub.ID, sub.Email, "")
}

// MintRefresh issues a refresh token with a fresh random 128-bit jti. The jti is
// returned alongside the token because it is the session store join key.
func (m *Minter) MintRefresh(sub Subject) (string, string, error) {
	jti, err := newJTI()
	if err != nil {
		return "", "", err
	}
	token, err := m.mint(KindRefresh, sub.ID, "", jti)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// MintTemporary issues a token that is only accepted by the MFA login step.
func (m *Minter) MintTemporary(sub Subject) (string, error) {
	return m.mint(KindTemporary, sub.ID, "", "")
}

// Verify checks signature, expiry, issuer, audience and kind. Callers must treat
// both failure modes as "reject and require re-authentication".
func (m *Minter) Verify(token string, kind Kind) (*Claims, error) {
	kc, ok := m.keyConfig(kind)
	if !ok {
		return nil, ErrTokenInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(kc.Issuer),
		jwt.WithAudience(kc.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return kc.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Type != kind || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if kind == KindRefresh && claims.ID == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// DecodeUnsafe decodes the payload without checking the signature. It returns nil
// for anything that is not a structurally valid token. Fields are only fit for
// rate-limit keying and store lookups, never for authorization.
func (m *Minter) DecodeUnsafe(token string) *Claims {
	return DecodeUnsafe(token)
}

// DecodeUnsafe is the package-level form of [Minter.DecodeUnsafe].
func DecodeUnsafe(token string) *Claims {
	if token == "" {
		return nil
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// TTL reports the configured lifetime of a token kind.
func (m *Minter) TTL(kind Kind) time.Duration {
	kc, _ := m.keyConfig(kind)
	return kc.TTL
}

func (m *Minter) mint(kind Kind, subject, email, jti string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	kc, ok := m.keyConfig(kind)
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	now := m.now()
	claims := Claims{
		Email: email,
		Type:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    kc.Issuer,
			Audience:  jwt.ClaimStrings{kc.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(kc.TTL)),
			ID:        jti,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(kc.Secret)
}

func (m *Minter) keyConfig(kind Kind) (KeyConfig, bool) {
	switch kind {
	case KindAccess:
		return m.config.Access, true
	case KindRefresh:
		return m.config.Refresh, true
	case KindTemporary:
		return m.config.Temporary, true
	default:
		return KeyConfig{}, false
	}
}

func newJTI() (string, error) {
	var raw [jtiBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}
