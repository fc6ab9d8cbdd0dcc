// Package middleware holds the net/http adapters that carry request identity into
// a context the identity provider understands.
//
//   - [AccessToken] moves the bearer token into the context.
//   - [RequireAccessToken] answers 401 when no token was sent.
//   - [ClientIP] records the caller address for audit events.
//
// None of these validate tokens. That belongs to the provider behind the handler.
package middleware
