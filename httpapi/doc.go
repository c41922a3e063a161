// Package httpapi exposes the authentication engine over JSON/HTTP with gin.
//
// Routes live under /auth. Login, captcha, forgot-password and
// reset-password are public; the two-factor, change-password and signup
// routes need a bearer session, and signup additionally needs an
// administrator role.
package httpapi
