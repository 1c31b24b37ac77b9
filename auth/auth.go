package auth

import (
	"context"
	"errors"
)

// ErrMissingCredential indicates the request carried no usable bearer token:
// the Authorization header was absent, used another scheme or was empty.
var ErrMissingCredential = errors.New("missing credential")

// ErrInvalidCredential indicates the token was presented but the introspection
// capability rejected it (malformed, expired, revoked, wrong audience, ...).
var ErrInvalidCredential = errors.New("invalid credential")

// ErrUpstreamUnavailable indicates the introspection capability itself could
// not be reached or did not answer in time. Callers must not surface this
// distinction to clients; it exists for logs and metrics.
var ErrUpstreamUnavailable = errors.New("introspection upstream unavailable")

// ErrInsufficientScope indicates the token verified but did not satisfy the
// configured scope policy. The gate treats it as an invalid credential.
var ErrInsufficientScope = errors.New("insufficient scope")

// Introspector verifies a bearer token and returns its claims.
//
// Implementations must be safe for concurrent use. Errors wrapping
// ErrUpstreamUnavailable are classified as infrastructure failures; every
// other error is treated as a rejection of the token.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*IntrospectionResult, error)
}

// IntrospectorFunc adapts a plain function to the Introspector interface.
type IntrospectorFunc func(ctx context.Context, token string) (*IntrospectionResult, error)

// Introspect calls f(ctx, token).
func (f IntrospectorFunc) Introspect(ctx context.Context, token string) (*IntrospectionResult, error) {
	return f(ctx, token)
}

// Stable labels returned by Reason.
const (
	ReasonOK                  = "ok"
	ReasonMissingCredential   = "missing_credential"
	ReasonInvalidCredential   = "invalid_credential"
	ReasonUpstreamUnavailable = "upstream_unavailable"
)

// Reason maps an Authenticate error to a stable, low-cardinality label
// suitable for log attributes and metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, ErrMissingCredential):
		return ReasonMissingCredential
	case errors.Is(err, ErrUpstreamUnavailable):
		return ReasonUpstreamUnavailable
	default:
		return ReasonInvalidCredential
	}
}
