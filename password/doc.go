// Package password implements the Password Hasher and the password strength policy.
//
// # Output format
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Chain] also verifies bcrypt hashes carried over from older deployments and
// reports them through NeedsUpgrade so the caller can rehash on the next login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other taskauth package.
//   - Log plaintext passwords.
package password
