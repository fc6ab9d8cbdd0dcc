// Package permission parses colon-delimited permission strings and evaluates them
// against the permission set of the currently active role.
//
// # Wire format
//
// A permission string is either system-scoped ("resource:action") or tenant-scoped
// ("tenantId:resource:action"). Segments are split on ':' with no escaping, so a
// segment can never contain a colon.
//
// # Architecture boundaries
//
// This package is pure: no I/O, no clocks, no shared state. The Engine decides what
// to do with a decision (audit, metrics, enforcement); this package only answers
// yes or no.
//
// # What this package must NOT do
//
//   - Access the Identity Provider, session tokens, or the network.
//   - Import goAuthCore, session, or mfa.
//   - Record audit events for the superadmin bypass (the caller does that).
package permission
