// Package revocation defines a local deny-list of token ids (jti) consulted
// after a token has been introspected successfully.
//
// Entries are kept until the token would have expired anyway. The list is
// never used to cache introspection results: a token absent from it is still
// verified upstream on every request.
package revocation

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyTokenID is returned by Revoke for an empty jti.
var ErrEmptyTokenID = errors.New("revocation: empty token id")

// Store records revoked token ids. Implementations must be safe for
// concurrent use.
type Store interface {
	// Revoke marks jti as revoked until the given instant. Revoking with an
	// instant in the past is a no-op.
	Revoke(ctx context.Context, jti string, until time.Time) error
	// IsRevoked reports whether jti is currently revoked.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Close releases resources held by the store.
	Close() error
}
