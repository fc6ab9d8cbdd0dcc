// Package password hashes and verifies passwords with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful sign-in.
//
// # What this package must NOT do
//
//   - Store passwords; callers supply plaintext and keep the hash.
//   - Log plaintext passwords.
package password
