// Package middleware guards routes that need a signed-in account.
//
// Guards read the Authorization bearer token, verify it with a
// [SessionParser] and store the claims on the request. [Guard] serves plain
// net/http handlers; [RequireSession] and [RequireRole] serve gin routes.
// Handlers read the claims back with [ClaimsFromContext] or [ClaimsFromGin].
package middleware
