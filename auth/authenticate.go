package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

const bearerPrefix = "Bearer "

// ParseBearerToken extracts the token from an Authorization header value.
// Anything other than `Bearer <token>` yields ErrMissingCredential.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: no authorization header", ErrMissingCredential)
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", fmt.Errorf("%w: authorization scheme is not bearer", ErrMissingCredential)
	}
	_, tok, _ := strings.Cut(header, " ")
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrMissingCredential)
	}
	return tok, nil
}

// Authenticate verifies token with in and returns a fresh AuthContext.
//
// The returned error always wraps exactly one of ErrMissingCredential,
// ErrInvalidCredential or ErrUpstreamUnavailable. Results are never cached:
// each call performs its own introspection.
func Authenticate(ctx context.Context, in Introspector, token string) (*AuthContext, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty bearer token", ErrMissingCredential)
	}
	if in == nil {
		return nil, fmt.Errorf("%w: no introspector configured", ErrUpstreamUnavailable)
	}

	res, err := in.Introspect(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrUpstreamUnavailable):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			return nil, errors.Join(ErrUpstreamUnavailable, err)
		case errors.Is(err, ErrInvalidCredential):
			return nil, err
		default:
			return nil, errors.Join(ErrInvalidCredential, err)
		}
	}
	if res == nil {
		return nil, fmt.Errorf("%w: introspection returned no claims", ErrInvalidCredential)
	}
	if res.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: token expired at %s", ErrInvalidCredential, res.ExpiresAt.Format(time.RFC3339))
	}

	out := *res
	out.Audience = slices.Clone(res.Audience)
	out.Scopes = slices.Clone(res.Scopes)
	out.CustomClaims = maps.Clone(res.CustomClaims)
	return &AuthContext{Token: token, Result: out}, nil
}
