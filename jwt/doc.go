// Package jwt mints and verifies the three token kinds handed out by the broker:
// short-lived access tokens, refresh tokens carrying a session join key (jti), and
// temporary tokens issued while a second factor is outstanding.
//
// Each kind is signed with its own secret and bound to its own issuer/audience pair,
// so a token minted for one purpose is rejected wherever another kind is expected.
// The package holds no state beyond its configuration and never touches storage.
package jwt
