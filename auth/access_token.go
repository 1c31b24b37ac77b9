package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ggoodman/mcp-resource-gate/internal/jwtauth"
)

// AccessTokenOption configures optional aspects of the JWT access token
// introspector (scopes, algorithms, leeway, etc.).
type AccessTokenOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// token's "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = slices.Clone(scopes)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) AccessTokenOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = slices.Clone(scopes)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) AccessTokenOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = slices.Clone(algs)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithoutATJWTType accepts tokens whose typ header is not "at+jwt". Several
// hosted identity providers sign access tokens with typ "JWT".
func WithoutATJWTType() AccessTokenOption {
	return func(c *jwtauth.Config) { c.RequireATJWT = false }
}

// ScopesTransform rewrites the scopes discovered from the authorization server
// before they are advertised in metadata documents.
type ScopesTransform func(discovered []string) []string

// WithAdvertisedScopes installs a transform applied to discovered scopes.
func WithAdvertisedScopes(fn ScopesTransform) AccessTokenOption {
	return func(c *jwtauth.Config) { c.AdvertisedScopes = fn }
}

// StaticScopes advertises exactly the given scopes regardless of discovery.
func StaticScopes(scopes ...string) ScopesTransform {
	fixed := slices.Clone(scopes)
	return func([]string) []string { return slices.Clone(fixed) }
}

// FilterScopes advertises the discovered scopes for which keep returns true.
func FilterScopes(keep func(string) bool) ScopesTransform {
	return func(discovered []string) []string {
		out := []string{}
		for _, s := range discovered {
			if keep(s) {
				out = append(out, s)
			}
		}
		return out
	}
}

// NewFromDiscovery returns an introspector that verifies JWT access tokens
// locally using OpenID Connect discovery (jwks_uri, issuer, etc.).
//
// Required:
//   - issuer:   authorization server issuer URL
//   - audience: expected audience ("aud") claim; empty accepts any audience
//     issued by this issuer
//
// Remaining validation knobs (scopes, algs, leeway) are configured via functional options.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...AccessTokenOption) (SecurityProvider, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	if audience != "" {
		cfg.ExpectedAudiences = []string{audience}
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	v, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sec := buildSecurityConfig(cfg, v)
	sec.Issuer = v.Issuer()
	return &adapter{v: v, sec: sec}, nil
}

// buildSecurityConfig derives the advertised security configuration from the
// validation config and what discovery returned.
func buildSecurityConfig(cfg *jwtauth.Config, dm jwtauth.DiscoveryMetadata) SecurityConfig {
	scopes := dm.Scopes()
	if cfg.AdvertisedScopes != nil {
		scopes = cfg.AdvertisedScopes(scopes)
	}
	sec := SecurityConfig{
		Issuer:      cfg.Issuer,
		Audiences:   slices.Clone(cfg.ExpectedAudiences),
		AllowedAlgs: slices.Clone(cfg.AllowedAlgs),
		JWKSURL:     dm.JWKSURI(),
		Leeway:      cfg.Leeway,

		RequireATJWT: cfg.RequireATJWT,
		OIDC: &OIDCExtra{
			AuthorizationEndpoint:                      dm.AuthorizationEndpoint(),
			TokenEndpoint:                              dm.TokenEndpoint(),
			RegistrationEndpoint:                       dm.RegistrationEndpoint(),
			ScopesSupported:                            scopes,
			ResponseTypesSupported:                     dm.ResponseTypes(),
			GrantTypesSupported:                        dm.GrantTypes(),
			ResponseModesSupported:                     dm.ResponseModes(),
			CodeChallengeMethodsSupported:              dm.CodeChallengeMethods(),
			TokenEndpointAuthMethodsSupported:          dm.TokenEndpointAuthMethods(),
			TokenEndpointAuthSigningAlgValuesSupported: dm.TokenEndpointAuthAlgs(),
			ServiceDocumentation:                       dm.ServiceDocumentation(),
			OpPolicyURI:                                dm.PolicyURI(),
			OpTosURI:                                   dm.TosURI(),
		},
	}
	sec.Normalize()
	return sec
}

// adapter wraps an internal verifier to satisfy the public interfaces.
type adapter struct {
	v   jwtauth.Verifier
	sec SecurityConfig
}

func (ad *adapter) Introspect(ctx context.Context, tok string) (*IntrospectionResult, error) {
	claims, err := ad.v.Verify(ctx, tok)
	if err != nil {
		// Map internal sentinel errors to public errors used by the gate.
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInvalidCredential, ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrInvalidCredential, err)
	}
	return resultFromClaims(claims), nil
}

func (ad *adapter) SecurityConfig() SecurityConfig { return ad.sec.Copy() }

// registeredClaims are mapped onto IntrospectionResult fields and therefore
// excluded from CustomClaims.
var registeredClaims = map[string]bool{
	"sub": true, "iss": true, "aud": true, "exp": true, "iat": true,
	"nbf": true, "jti": true, "scope": true, "scp": true,
}

func resultFromClaims(claims map[string]any) *IntrospectionResult {
	res := &IntrospectionResult{CustomClaims: map[string]any{}}
	res.Subject, _ = claims["sub"].(string)
	res.Issuer, _ = claims["iss"].(string)
	res.TokenID, _ = claims["jti"].(string)
	res.Audience = ParseScopes(claims["aud"])
	if v, ok := claims["scope"]; ok {
		res.Scopes = ParseScopes(v)
	} else {
		res.Scopes = ParseScopes(claims["scp"])
	}
	res.ExpiresAt = unixClaim(claims["exp"])
	res.IssuedAt = unixClaim(claims["iat"])
	for k, v := range claims {
		if !registeredClaims[k] {
			res.CustomClaims[k] = v
		}
	}
	return res
}

func unixClaim(v any) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0)
	case int64:
		return time.Unix(n, 0)
	case int:
		return time.Unix(int64(n), 0)
	}
	return time.Time{}
}
