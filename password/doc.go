// Package password hashes and verifies login credentials.
//
// # Output format
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes ($2a$, $2b$, $2y$) so accounts imported
// from older systems keep working. [Argon2.NeedsRehash] reports both legacy
// bcrypt hashes and Argon2id hashes produced with weaker parameters.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials.
//   - Import goSession.
//   - Log plaintext credentials.
package password
