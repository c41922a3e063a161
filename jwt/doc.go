// Package jwt issues and verifies the session tokens handed out after a
// completed login. HS256 and Ed25519 are supported, with optional key ids
// for rotation.
package jwt
