// Package stores holds the short-lived Redis records behind a login:
// captcha challenges, pending two-factor enrollments, two-factor tickets
// and password reset tokens.
//
// Every record is a versioned binary blob stored with a TTL that matches
// its ExpiresAt. Reads re-check ExpiresAt so a record is never honored
// past its deadline even if the key outlives it. Mutations run either in
// a Lua script or under WATCH with a bounded retry.
//
// The package does not generate secrets or make authentication decisions.
package stores
