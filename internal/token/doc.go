// Package token signs and verifies the access tokens minted by the in-memory
// identity provider. Tokens are JWTs carrying the user id and the server-side
// session id, so a signed-out session can be rejected before expiry.
package token
