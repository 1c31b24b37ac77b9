package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// StaticConfig controls validation for manual (non-discovery) JWT access tokens.
// Caller supplies issuer, zero or more expected audiences, and JWKS URI.
type StaticConfig struct {
	Issuer            string
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool
	AllowedAlgs       []string
	Leeway            time.Duration
	// RequireATJWT enforces the RFC 9068 "at+jwt" typ header.
	RequireATJWT bool
}

// DefaultStaticConfig returns a StaticConfig with safe algorithm + leeway defaults.
func DefaultStaticConfig() *StaticConfig {
	return &StaticConfig{AllowedAlgs: []string{"RS256"}, Leeway: 60 * time.Second}
}

type staticVerifier struct {
	cfg     *StaticConfig
	keyfunc jwt.Keyfunc
}

// NewStatic constructs a verifier that validates JWT access tokens against a
// statically configured issuer, audiences and JWKS URI (no discovery).
func NewStatic(ctx context.Context, cfg *StaticConfig, jwksURI string) (*staticVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return newStaticWithKeyfunc(cfg, kf.Keyfunc), nil
}

func newStaticWithKeyfunc(cfg *StaticConfig, kf jwt.Keyfunc) *staticVerifier {
	return &staticVerifier{cfg: cfg, keyfunc: restrictAlgs(cfg.AllowedAlgs, kf)}
}

// Verify implements the Verifier interface.
func (a *staticVerifier) Verify(ctx context.Context, tok string) (Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	if err := checkTyp(a.cfg.RequireATJWT, parsed); err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	// Audience intersection check (string or array).
	if len(a.cfg.ExpectedAudiences) > 0 && !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if err := checkScopes(a.cfg.RequiredScopes, a.cfg.ScopeModeAny, scopeClaim(claims)); err != nil {
		return nil, err
	}
	return Claims(claims), nil
}

func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}

// Ensure staticVerifier satisfies the same interface expected by adapters.
var _ Verifier = (*staticVerifier)(nil)
