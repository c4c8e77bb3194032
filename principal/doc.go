// Package principal provides goSession.PrincipalRepository implementations:
// an in-memory repository for tests and single-process tools, and a
// PostgreSQL repository on pgx. It also provides an OAuth2 identity
// resolver that maps a provider's userinfo claim to a local principal.
package principal
