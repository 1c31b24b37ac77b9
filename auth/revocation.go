package auth

import (
	"context"
	"errors"
	"fmt"
)

// RevocationChecker reports whether a token id has been revoked locally.
// revocation.Store implementations satisfy it.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// WithRevocationCheck wraps in so that successfully introspected tokens are
// additionally checked against rc. Tokens without a jti pass through
// unchanged. A checker failure is reported as ErrUpstreamUnavailable.
func WithRevocationCheck(in Introspector, rc RevocationChecker) Introspector {
	if rc == nil {
		return in
	}
	return IntrospectorFunc(func(ctx context.Context, token string) (*IntrospectionResult, error) {
		res, err := in.Introspect(ctx, token)
		if err != nil || res == nil || res.TokenID == "" {
			return res, err
		}
		revoked, err := rc.IsRevoked(ctx, res.TokenID)
		if err != nil {
			return nil, errors.Join(ErrUpstreamUnavailable, fmt.Errorf("revocation check: %w", err))
		}
		if revoked {
			return nil, fmt.Errorf("%w: token %s revoked", ErrInvalidCredential, res.TokenID)
		}
		return res, nil
	})
}
