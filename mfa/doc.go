// Package mfa reconciles, enrolls, verifies and disables the TOTP second factor.
//
// # Reconciliation
//
// Two sources can disagree about whether MFA is on: the mfaEnabled flag cached in
// profile metadata, and the factor list held by the identity provider. [Service.Status]
// resolves them in a fixed order:
//
//  1. metadata true: enabled, no factor query.
//  2. verified factor, metadata false: disabled. The orphaned factor is left alone.
//  3. verified factor, metadata absent: enabled, metadata written back best-effort.
//  4. unverified factor only: pending verification.
//  5. no factors: disabled.
//
// # Architecture boundaries
//
// The package talks to the identity provider only through [FactorStore] and
// [MetadataStore]. Re-authentication, metrics and audit are injected through [Deps].
//
// # What this package must NOT do
//
//   - Import goAuthCore or session.
//   - Unenroll factors on the read path ([Service.SweepOrphanedFactors] is explicit).
//   - Persist recovery codes.
package mfa
