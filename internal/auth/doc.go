// Package auth resolves the caller identity for huddle requests.
//
// # Tokens
//
// Callers present an HS256 JWT signed with the configured jwt_secret. The
// "sub" claim names a user in the store; "exp" is required. Credential
// issuance is external; JWTVerifier.Generate exists for the developer
// token command and tests.
//
// # Identity Gate
//
// Gate.Middleware wraps every API route. It reads the token from the
// Authorization header ("Bearer <token>") or, for WebSocket upgrades, the
// access_token query parameter. A missing, invalid or expired token and an
// unknown subject all fail with 401 UNAUTHENTICATED before any handler runs.
//
// On success the Identity is attached to the request context:
//
//	id := auth.MustFromContext(r.Context())
//
// # Testing
//
// MockTokenVerifier is generated by mockgen from token.go.
package auth
