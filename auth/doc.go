// Package auth provides the framework-agnostic core of the bearer token gate.
//
// A request is admitted by extracting its bearer token (ParseBearerToken) and
// handing it to an Introspector, an explicitly constructed dependency that
// knows how to verify tokens issued by the external authorization server.
// Authenticate combines both steps and returns an AuthContext on success.
//
// # Introspectors
//
// NewFromDiscovery verifies RFC 9068 JWT access tokens locally using OpenID
// Connect discovery to obtain the issuer's JWKS and metadata.
// SecurityConfig.NewManualJWTIntrospector does the same with a configured
// JWKS URL. NewRemoteIntrospector calls an RFC 7662 introspection endpoint
// for opaque tokens.
//
// Example:
//
//	ctx := context.Background()
//	in, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://mcp.example/api",
//	    auth.WithRequiredScopes("mcp:read", "mcp:write"),
//	)
//	if err != nil { log.Fatal(err) }
//
//	tok, err := auth.ParseBearerToken(r.Header.Get("Authorization"))
//	if err == nil {
//	    ac, err := auth.Authenticate(r.Context(), in, tok)
//	    ...
//	}
//
// # Scopes
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's scope claim; WithAnyRequiredScope relaxes this so at least one
// matches. Subsequent calls overwrite the scope mode.
//
// # Errors
//
// Every error returned by Authenticate wraps exactly one of
// ErrMissingCredential, ErrInvalidCredential or ErrUpstreamUnavailable. The
// HTTP layer answers all three identically; Reason maps them to labels for
// logs and metrics.
package auth
