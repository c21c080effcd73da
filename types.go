package authbroker

import (
	"context"
	"time"
)

// User is the account record owned by the UserStore.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"emailVerified"`
	MFAActive     bool      `json:"mfaActive"`
	MFASecret     string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// UserStore persists users. Implementations return ErrUserNotFound and
// ErrUserExists for the corresponding conditions and wrap connectivity failures
// in ErrStoreUnavailable.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	SetPasswordHash(ctx context.Context, userID, hash string) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetMFA(ctx context.Context, userID, secret string, active bool) error
}

// LoginResult is the outcome of a successful first or second login step.
//
// When MFARequired is set only TempToken is populated; it must be exchanged at
// VerifyMFALogin for the full token pair.
type LoginResult struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TempToken    string
	MFARequired  bool
	IsNewDevice  bool
}

// TokenPair is returned by Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AccountStatus summarizes an account for its owner.
type AccountStatus struct {
	Email          string `json:"email"`
	EmailVerified  bool   `json:"emailVerified"`
	MFAState       string `json:"mfaState"`
	MFAActive      bool   `json:"mfaActive"`
	ActiveSessions int    `json:"activeSessions"`
}

// MFASetup is returned by SetupMFA for the authenticator app.
type MFASetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode"`
}

// Session describes one active session as shown to its owner.
type Session struct {
	JTI        string    `json:"jti"`
	IP         string    `json:"ip"`
	Device     string    `json:"device"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
