// Package password implements password hashing, verification and the
// rotation policy.
//
// # Output format
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) verify but always report
// [Hasher.NeedsUpgrade], so the caller rehashes them after the next
// successful sign-in.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other deskgate package.
//   - Log plaintext passwords.
package password
