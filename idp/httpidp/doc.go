// Package httpidp carries the identity provider and directory contracts over
// HTTP.
//
// [NewHandler] serves any backend implementing both contracts, such as
// *memory.Provider, as a GoTrue-style JSON API routed with chi:
//
//	POST   /token?grant_type=password|refresh_token
//	POST   /logout
//	GET    /user
//	GET    /user/metadata
//	PUT    /user/metadata
//	GET    /factors
//	POST   /factors
//	DELETE /factors/{factorID}
//	POST   /factors/{factorID}/challenge
//	POST   /factors/{factorID}/verify
//	GET    /users/{userID}/tenants
//	GET    /users/{userID}/roles?tenant_id=
//	PUT    /users/{userID}/role
//	PUT    /users/{userID}/tenant
//	GET    /users/{userID}/impersonation
//	PATCH  /users/{userID}/profile
//	POST   /recover
//	POST   /recover/confirm
//
// [Client] is the other end. Errors come back as *APIError and unwrap to the
// package sentinels they were raised with, so errors.Is and the Engine's
// error kinds behave as they do in-process.
package httpidp
