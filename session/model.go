package session

import "time"

// Record is the persisted metadata of one issued refresh token.
type Record struct {
	JTI         string    `json:"jti"`
	UserID      string    `json:"userId"`
	HashedToken string    `json:"hashedToken"`
	IP          string    `json:"ip,omitempty"`
	Device      string    `json:"device,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// Identity is what a validated refresh token resolves to.
type Identity struct {
	UserID string
	JTI    string
}

// Decoder extracts the subject and jti from a raw refresh token without
// verifying it. ok is false when the token cannot be decoded at all.
type Decoder func(token string) (userID, jti string, ok bool)
