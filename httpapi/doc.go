// Package httpapi is the HTTP surface of a goSession engine: credential
// login, logout, OAuth2 redirect and callback, session introspection,
// health and metrics, routed with chi.
//
// Error responses are JSON objects of the form
//
//	{"error": "account_locked", "retry_after": 60}
//
// with a Retry-After header whenever retry_after is present. Error bodies
// never say which part of a credential was wrong.
package httpapi
