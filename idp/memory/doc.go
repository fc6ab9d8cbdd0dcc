// Package memory is an in-process identity provider and directory for
// goAuthCore. It backs the demo binary and integration tests, and documents the
// contract a real backend has to meet.
//
// Passwords are hashed with Argon2id. Access tokens are Ed25519-signed JWTs
// bound to a server-side session, and refresh tokens are opaque and rotate on
// every use. Presenting a rotated refresh token revokes its session. TOTP
// factors follow RFC 6238 with 30 second steps and one step of skew.
//
// Failed sign-ins can lock an account. Counts live in process memory or, with
// [NewRedisCounter], in Redis shared by several providers.
//
// Fixtures are loaded from TOML with [DecodeSeed] and [Provider.Apply].
package memory
