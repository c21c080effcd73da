// Package middleware exposes net/http guards that authenticate a request with
// an authbroker.Engine before it reaches the wrapped handler.
//
// # Guards
//
//   - [RequireAccess] accepts only access tokens.
//   - [RequireTemporary] accepts only the MFA-pending temporary token.
//   - [Guard] is the shared building block for custom validators.
//
// Each guard reads the Authorization header, delegates verification to the
// engine and injects the validated claims into the request context, where
// [ClaimsFromContext] retrieves them.
//
// The guards never parse JWTs or touch Redis themselves.
package middleware
