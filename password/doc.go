// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes written by the previous bcrypt-based deployment ("$2a$", "$2b$", "$2y$")
// still verify, and [Hasher.NeedsRehash] reports them so the caller can upgrade the
// stored hash after the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Log plaintext passwords.
package password
