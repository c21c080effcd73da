// Package rate implements the Redis-backed fixed-window counter used to throttle
// login, refresh, password-reset and MFA-verify attempts.
//
// # Window semantics
//
// One key per (action, identity). The first increment in a window sets the expiry;
// every later increment in the same window only counts. A request is allowed while
// count <= limit, so exactly limit requests pass per window. Window edges are not
// smoothed: a caller may burst up to 2*limit across a boundary.
//
// Key shapes:
//   - login:<ip>:<email>
//   - refresh:<userId>
//   - forgotpassword:<ip>:<email>
//   - resetpasswordconfirm:<ip>:<email>
//   - mfaverify:<userId>:<ip>
//
// # What this package must NOT do
//
//   - Decide what happens after a block (audit, notifications belong to the engine).
//   - Be imported outside the authbroker module.
package rate
