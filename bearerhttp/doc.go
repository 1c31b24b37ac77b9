// Package bearerhttp guards net/http handlers with bearer token authentication.
//
// A Gate extracts the token from the Authorization header, verifies it with an
// auth.Introspector under a bounded timeout and either hands the resulting
// auth.AuthContext to the wrapped handler or answers with a uniform 401:
//
//	HTTP/1.1 401 Unauthorized
//	WWW-Authenticate: Bearer error="Unauthorized", error_description="Unauthorized", resource_metadata="https://api.example.com/.well-known/oauth-protected-resource"
//	Content-Type: application/json
//
//	{"error":"Unauthorized"}
//
// The response never reveals whether the credential was missing, rejected or
// could not be checked because the introspection upstream was down. That
// distinction is only visible in logs (auth.check.missing, auth.check.invalid,
// auth.check.upstream) and in the outcome label of the gate's metrics.
//
// Handlers receive the AuthContext either from the request context
// (Middleware + auth.FromContext) or as an explicit argument (WrapFunc).
package bearerhttp
