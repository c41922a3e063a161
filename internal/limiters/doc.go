// Package limiters holds the counters that gate a login.
//
//   - [ShadowLockout] mirrors account lockout for identifiers with no
//     account, so unknown and known emails escalate the same way.
//   - [CaptchaIssueLimiter] throttles standalone captcha requests per IP.
//   - [ResetRequestLimiter] throttles password reset requests per email.
//
// All limiters are nil-safe: calling any method on a nil receiver is a no-op.
// Consequences of a limit are decided by the caller.
package limiters
