package mfa

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	// ErrAlreadySetup is returned by Setup when MFA is already active.
	ErrAlreadySetup = errors.New("mfa already set up")
	// ErrNotSetup is returned by ConfirmSetup when no secret is stored.
	ErrNotSetup = errors.New("mfa not set up")
	// ErrNotEnabled is returned by VerifyLogin and Reset when MFA is not active.
	ErrNotEnabled = errors.New("mfa not enabled")
	// ErrInvalidCode is returned when a presented code does not verify.
	ErrInvalidCode = errors.New("invalid mfa code")
)

// State is the MFA enrollment state of an account.
type State int

const (
	NotConfigured State = iota
	PendingVerification
	Active
)

func (s State) String() string {
	switch s {
	case PendingVerification:
		return "pending_verification"
	case Active:
		return "active"
	default:
		return "not_configured"
	}
}

// Account is the MFA-relevant view of a user.
type Account struct {
	UserID string
	Email  string
	Secret string
	Active bool
}

// State derives the enrollment state from the stored fields.
func (a Account) State() State {
	switch {
	case a.Active && a.Secret != "":
		return Active
	case a.Secret != "":
		return PendingVerification
	default:
		return NotConfigured
	}
}

// SecretStore persists the MFA fields of a user.
type SecretStore interface {
	SetMFA(ctx context.Context, userID, secret string, active bool) error
}

// SessionRevoker terminates every session of a user.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID string) (int, error)
}

// Config holds TOTP parameters.
type Config struct {
	Issuer    string
	Period    uint
	Skew      uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
	QRSize    int
}

// DefaultConfig returns 6 digit SHA1 codes on a 30 second period with ±2 steps of skew.
func DefaultConfig() Config {
	return Config{
		Issuer:    "authentication-service",
		Period:    30,
		Skew:      2,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
		QRSize:    200,
	}
}

// Provisioning is returned by Setup for the authenticator app.
type Provisioning struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauthUrl"`
	QRCode string `json:"qrCode"`
}

// Engine runs the MFA state machine against a SecretStore.
type Engine struct {
	cfg     Config
	store   SecretStore
	revoker SessionRevoker
	now     func() time.Time
}

// NewEngine returns an Engine. Zero config fields take their DefaultConfig values.
func NewEngine(cfg Config, store SecretStore, revoker SessionRevoker) *Engine {
	def := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.Digits == 0 {
		cfg.Digits = def.Digits
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = def.QRSize
	}
	return &Engine{cfg: cfg, store: store, revoker: revoker, now: time.Now}
}

// WithClock replaces the time source used for code validation.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Setup generates and stores a fresh secret for acc, leaving MFA inactive until
// ConfirmSetup succeeds. Calling Setup again while pending replaces the secret.
func (e *Engine) Setup(ctx context.Context, acc Account) (*Provisioning, error) {
	if acc.State() == Active {
		return nil, ErrAlreadySetup
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: acc.Email,
		Period:      e.cfg.Period,
		Digits:      e.cfg.Digits,
		Algorithm:   e.cfg.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	qr, err := e.qrDataURL(key)
	if err != nil {
		return nil, err
	}

	if err := e.store.SetMFA(ctx, acc.UserID, key.Secret(), false); err != nil {
		return nil, err
	}

	return &Provisioning{Secret: key.Secret(), URI: key.String(), QRCode: qr}, nil
}

// ConfirmSetup activates MFA when code verifies against the stored secret. A wrong
// code leaves the state unchanged.
func (e *Engine) ConfirmSetup(ctx context.Context, acc Account, code string) error {
	if acc.Secret == "" {
		return ErrNotSetup
	}
	if acc.State() == Active {
		return ErrAlreadySetup
	}
	if !e.validate(acc.Secret, code) {
		return ErrInvalidCode
	}
	return e.store.SetMFA(ctx, acc.UserID, acc.Secret, true)
}

// VerifyLogin checks code for an account with active MFA. It never mutates state.
func (e *Engine) VerifyLogin(acc Account, code string) error {
	if acc.State() != Active {
		return ErrNotEnabled
	}
	if !e.validate(acc.Secret, code) {
		return ErrInvalidCode
	}
	return nil
}

// Reset clears the secret, deactivates MFA and revokes every session of the user.
func (e *Engine) Reset(ctx context.Context, acc Account) error {
	if acc.State() != Active {
		return ErrNotEnabled
	}
	if err := e.store.SetMFA(ctx, acc.UserID, "", false); err != nil {
		return err
	}
	if e.revoker != nil {
		if _, err := e.revoker.RevokeAllSessions(ctx, acc.UserID); err != nil {
			return fmt.Errorf("revoke sessions after mfa reset: %w", err)
		}
	}
	return nil
}

func (e *Engine) validate(secret, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period:    e.cfg.Period,
		Skew:      e.cfg.Skew,
		Digits:    e.cfg.Digits,
		Algorithm: e.cfg.Algorithm,
	})
	return err == nil && ok
}

func (e *Engine) qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(e.cfg.QRSize, e.cfg.QRSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
