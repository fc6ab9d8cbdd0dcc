// Package goAuthCore is the client-side session and authorization core for a
// multi-tenant application: it tracks the signed-in principal, the active tenant
// and role, permission checks, an optional impersonation overlay and the TOTP
// second-factor lifecycle.
//
// An [Engine] is built once per client through [New] and [Builder.Build] and then
// driven by the UI layer. Its operations are safe to call from multiple goroutines;
// they are serialized internally and every published [AuthState] is a deep copy.
//
// # Architecture boundaries
//
// goAuthCore composes three sub-packages and owns no remote state itself:
//
//   - session: token pair, refresh timer and session persistence.
//   - permission: the permission wire format and its pure evaluator.
//   - mfa: factor/metadata reconciliation and the enroll/verify/disable protocol.
//
// Remote calls go through [IdentityProvider] and [Directory]. idp/memory and
// idp/httpidp provide implementations.
//
// # What this package must NOT do
//
//   - Decide authorization on the server's behalf. HasPermission drives the UI only.
//   - Store recovery codes or TOTP secrets after returning them.
//   - Retry a failed refresh. The session expires and the principal signs in again.
package goAuthCore
