// Package internal holds helpers private to goAuthCore backends: opaque session
// and refresh token minting.
//
// # Sub-packages
//
//   - token: JWT access token signing and verification
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAuthCore API.
package internal
