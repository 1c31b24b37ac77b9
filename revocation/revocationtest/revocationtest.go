// Package revocationtest holds the behavior every revocation.Store must share.
package revocationtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-resource-gate/revocation"
)

// Run exercises s against the revocation.Store contract.
func Run(t *testing.T, s revocation.Store) {
	t.Helper()

	t.Run("RevokeAndCheck", func(t *testing.T) { testRevokeAndCheck(t, s) })
	t.Run("Unknown", func(t *testing.T) { testUnknown(t, s) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, s) })
	t.Run("PastInstant", func(t *testing.T) { testPastInstant(t, s) })
	t.Run("EmptyID", func(t *testing.T) { testEmptyID(t, s) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, s) })
}

func uniqueID(t *testing.T, suffix string) string {
	return fmt.Sprintf("%s-%d-%s", t.Name(), time.Now().UnixNano(), suffix)
}

func testRevokeAndCheck(t *testing.T, s revocation.Store) {
	ctx := context.Background()
	jti := uniqueID(t, "a")
	if err := s.Revoke(ctx, jti, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() failed: %v", err)
	}
	revoked, err := s.IsRevoked(ctx, jti)
	if err != nil {
		t.Fatalf("IsRevoked() failed: %v", err)
	}
	if !revoked {
		t.Fatalf("expected %s to be revoked", jti)
	}
}

func testUnknown(t *testing.T, s revocation.Store) {
	revoked, err := s.IsRevoked(context.Background(), uniqueID(t, "never"))
	if err != nil {
		t.Fatalf("IsRevoked() failed: %v", err)
	}
	if revoked {
		t.Fatalf("unknown id reported revoked")
	}
}

func testExpiry(t *testing.T, s revocation.Store) {
	ctx := context.Background()
	jti := uniqueID(t, "short")
	if err := s.Revoke(ctx, jti, time.Now().Add(1100*time.Millisecond)); err != nil {
		t.Fatalf("Revoke() failed: %v", err)
	}
	if revoked, _ := s.IsRevoked(ctx, jti); !revoked {
		t.Fatalf("expected %s to be revoked before expiry", jti)
	}
	time.Sleep(2100 * time.Millisecond)
	revoked, err := s.IsRevoked(ctx, jti)
	if err != nil {
		t.Fatalf("IsRevoked() failed: %v", err)
	}
	if revoked {
		t.Fatalf("expected %s to be forgotten after expiry", jti)
	}
}

func testPastInstant(t *testing.T, s revocation.Store) {
	ctx := context.Background()
	jti := uniqueID(t, "past")
	if err := s.Revoke(ctx, jti, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke() failed: %v", err)
	}
	if revoked, _ := s.IsRevoked(ctx, jti); revoked {
		t.Fatalf("revocation in the past must be a no-op")
	}
}

func testEmptyID(t *testing.T, s revocation.Store) {
	ctx := context.Background()
	if err := s.Revoke(ctx, "", time.Now().Add(time.Hour)); !errors.Is(err, revocation.ErrEmptyTokenID) {
		t.Fatalf("expected ErrEmptyTokenID, got %v", err)
	}
	if revoked, err := s.IsRevoked(ctx, ""); err != nil || revoked {
		t.Fatalf("empty id: revoked=%v err=%v", revoked, err)
	}
}

func testConcurrent(t *testing.T, s revocation.Store) {
	ctx := context.Background()
	base := uniqueID(t, "c")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jti := fmt.Sprintf("%s-%d", base, i)
			if err := s.Revoke(ctx, jti, time.Now().Add(time.Hour)); err != nil {
				t.Errorf("Revoke(%s) failed: %v", jti, err)
				return
			}
			if revoked, err := s.IsRevoked(ctx, jti); err != nil || !revoked {
				t.Errorf("IsRevoked(%s) = %v, %v", jti, revoked, err)
			}
		}(i)
	}
	wg.Wait()
}
