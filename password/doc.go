// Package password hashes and verifies account passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts imported with bcrypt hashes can still sign in when
// Config.AcceptBcrypt is set. [Hasher.NeedsUpgrade] reports true for those
// and for argon2id hashes made with weaker parameters, so the caller can
// rehash after a successful login.
//
// Password policy (minimum length, reuse) belongs to the caller.
package password
