// Package session provides the Redis-backed refresh-token registry.
//
// # Layout
//
//	refresh:<userId>:<jti>   JSON [Record], TTL = refresh lifetime
//	user:sessions:<userId>   sorted set of jti scored by creation time (unix ms)
//	known_devices:<userId>   set of device fingerprints, longer TTL than sessions
//
// Only the SHA-256 of a refresh token is persisted. A tracked jti whose record has
// vanished (TTL expiry, partial failure) is removed lazily by the next read that
// notices it.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Record] model. It does NOT verify token
// signatures; identity is extracted through a caller-supplied [Decoder], so the
// package never imports the jwt package.
//
// # What this package must NOT do
//
//   - Import authbroker or jwt (no upward imports).
//   - Persist a raw refresh token.
//   - Decide whether a login needs a second factor.
package session
