// Package authbroker is the authentication broker: it issues and rotates tokens,
// tracks device-aware sessions in Redis, throttles and locks out abusive callers,
// and runs TOTP second-factor enrollment and verification.
//
// The package is designed for concurrent server workloads: Engine methods are safe to
// call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authbroker is the public surface. It exposes [Engine], [Builder], [Config], the
// [User] model with its [UserStore] collaborator, and typed errors. Token minting
// (jwt), the session registry (session), TOTP (mfa) and hashing (password) are
// separate packages; rate limiting, lockout, one-time tokens and audit dispatch live
// under internal/.
//
// # What this package must NOT do
//
//   - Map errors to HTTP status codes. That belongs to the adapter in internal/httpapi.
//   - Treat a store outage as an authentication failure.
//   - Import any sub-package that re-imports authbroker.
package authbroker
