// Package limiters holds the account-lockout tracker.
//
// Lockout is a stateless recomputation over an append-only attempt log rather than a
// mutable counter: two racing checks read the same log and can never under-count.
// Attempts are indexed twice, by email and by ip, in Redis sorted sets scored by
// unix milliseconds, and expire after the retention period.
//
// # What this package must NOT do
//
//   - Import authbroker or any sibling internal package.
//   - Mutate state on the read path; RecordAttempt is the only writer.
package limiters
