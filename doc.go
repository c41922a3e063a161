// Package authgate is the sign-in engine for the NeuroCheck admin console.
//
// An [Engine] runs the login state machine: lockout check, captcha gate,
// password verification, then an optional TOTP or backup-code step. It
// also owns two-factor enrollment, password change and reset, and account
// creation. Every call returns within the configured store timeout.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// Accounts live behind [AccountStore]; the store/postgres and store/memory
// packages provide implementations. Short-lived records (captcha sessions,
// pending enrollments, two-factor tickets, reset tokens) and failure
// counters for unknown emails live in Redis. Session tokens are minted by
// a caller-supplied [SessionIssuer], for example jwt.Manager.
//
// Rejections are *LoginError values classified by [RejectKind]. Backend
// failures wrap [ErrUnavailable] and are never reported as bad credentials.
package authgate
