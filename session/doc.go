// Package session owns the live access/refresh token pair, the one-shot refresh
// timer that keeps it fresh, and optional persistence of the pair across restarts.
//
// # Refresh scheduling
//
// [Manager.SetSession] cancels any pending timer before arming a new one at
// ExpiresIn × RefreshRatio (0.75 by default), so at most one refresh is ever
// pending. A failed refresh is terminal: it is reported to the failure handler and
// never retried or rescheduled.
//
// # Binary encoding
//
// Persisted sessions use a compact versioned binary format ([Encode], [Decode]).
// The encoder is append-only: new versions add fields but never reinterpret old ones.
//
// # Architecture boundaries
//
// This package owns the [Manager], the [Store] implementations and the [Session]
// model. Timers go through [Clock] so tests can drive them with a virtual clock
// (see package clocktest).
//
// # What this package must NOT do
//
//   - Import goAuthCore, permission, or mfa (no upward imports).
//   - Decide what a refresh failure means for the signed-in principal.
//   - Retry a failed refresh.
package session
