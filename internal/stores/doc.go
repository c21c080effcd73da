// Package stores provides Redis-backed single-use tokens for account flows:
// email verification and password reset.
//
// # Design
//
// Only the SHA-256 of a token is used as a key; the raw token exists solely in the
// message sent to the user. Each user has at most one live token per purpose: a
// pointer key records the current hash, and issuing a new token deletes the old one
// inside a WATCH/MULTI transaction. Consumption is a single GETDEL so a token can be
// redeemed at most once even under concurrent requests.
//
// # What this package must NOT do
//
//   - Import authbroker or any sibling internal package.
//   - Persist or log raw tokens.
package stores
