package auth

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ggoodman/mcp-resource-gate/internal/jwtauth"
)

// SecurityConfig describes how this resource validates and advertises bearer
// token authentication. It is produced by the introspector constructors and
// consumed by the discovery handlers, so the advertised metadata never drifts
// from what is enforced.
//
// A zero value is invalid; populate Issuer (and JWKSURL for manual
// verification) then call Validate.
type SecurityConfig struct {
	Issuer      string
	Audiences   []string // empty accepts any audience from Issuer
	AllowedAlgs []string // default: ["RS256"] if empty
	JWKSURL     string   // optional override / filled by discovery

	RequiredScopes []string
	AnyScope       bool // any of RequiredScopes suffices

	Leeway time.Duration // clock skew tolerance (default 60s)

	// RequireATJWT rejects tokens whose typ header is not "at+jwt" (RFC 9068).
	RequireATJWT bool

	OIDC *OIDCExtra // optional extended metadata for advertisement only
}

// OIDCExtra carries optional OpenID / OAuth authorization server metadata we
// surface for client bootstrapping. None of these fields are required for
// token validation.
type OIDCExtra struct {
	// AuthorizationEndpoint and TokenEndpoint are derived from OIDC discovery
	// (/.well-known/openid-configuration) when using discovery-based
	// introspectors. They are advertisement-only and never used for access
	// token validation in this process.
	AuthorizationEndpoint                      string
	TokenEndpoint                              string
	RegistrationEndpoint                       string
	ScopesSupported                            []string
	ResponseTypesSupported                     []string
	GrantTypesSupported                        []string
	ResponseModesSupported                     []string
	CodeChallengeMethodsSupported              []string
	TokenEndpointAuthMethodsSupported          []string
	TokenEndpointAuthSigningAlgValuesSupported []string
	ServiceDocumentation                       string
	OpPolicyURI                                string
	OpTosURI                                   string
}

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("security: issuer required")
	}
	for _, a := range c.Audiences {
		if a == "" {
			return errors.New("security: empty audience entry")
		}
	}
	if slices.Contains(c.AllowedAlgs, "none") {
		return errors.New("security: alg none is never allowed")
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.Audiences = slices.Clone(c.Audiences)
	dup.AllowedAlgs = slices.Clone(c.AllowedAlgs)
	dup.RequiredScopes = slices.Clone(c.RequiredScopes)
	if c.OIDC != nil {
		ox := *c.OIDC
		ox.ScopesSupported = slices.Clone(c.OIDC.ScopesSupported)
		ox.ResponseTypesSupported = slices.Clone(c.OIDC.ResponseTypesSupported)
		ox.GrantTypesSupported = slices.Clone(c.OIDC.GrantTypesSupported)
		ox.ResponseModesSupported = slices.Clone(c.OIDC.ResponseModesSupported)
		ox.CodeChallengeMethodsSupported = slices.Clone(c.OIDC.CodeChallengeMethodsSupported)
		ox.TokenEndpointAuthMethodsSupported = slices.Clone(c.OIDC.TokenEndpointAuthMethodsSupported)
		ox.TokenEndpointAuthSigningAlgValuesSupported = slices.Clone(c.OIDC.TokenEndpointAuthSigningAlgValuesSupported)
		dup.OIDC = &ox
	}
	return dup
}

// NewManualJWTIntrospector constructs a JWT access token introspector using
// this security configuration without performing OIDC discovery. It expects:
//   - c.Issuer (non-empty)
//   - c.JWKSURL (non-empty)
//
// AllowedAlgs and Leeway are honored (defaults applied via Normalize if needed).
// OIDC advertisement fields (AuthorizationEndpoint, TokenEndpoint, etc.) are
// not required for validation but may be present for metadata serving.
func (c SecurityConfig) NewManualJWTIntrospector(ctx context.Context) (SecurityProvider, error) {
	cc := c.Copy()
	cc.Normalize()
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	if cc.JWKSURL == "" {
		return nil, errors.New("security: JWKSURL required for manual JWT introspector")
	}

	sc := &jwtauth.StaticConfig{
		Issuer:            cc.Issuer,
		ExpectedAudiences: slices.Clone(cc.Audiences),
		RequiredScopes:    slices.Clone(cc.RequiredScopes),
		ScopeModeAny:      cc.AnyScope,
		AllowedAlgs:       slices.Clone(cc.AllowedAlgs),
		Leeway:            cc.Leeway,
		RequireATJWT:      cc.RequireATJWT,
	}
	v, err := jwtauth.NewStatic(ctx, sc, cc.JWKSURL)
	if err != nil {
		return nil, err
	}
	return &adapter{v: v, sec: cc}, nil
}

// EqualCore returns true if the core enforcement identity (issuer + audiences) matches.
func (c SecurityConfig) EqualCore(o SecurityConfig) bool {
	if c.Issuer != o.Issuer {
		return false
	}
	ac := slices.Clone(c.Audiences)
	bc := slices.Clone(o.Audiences)
	slices.Sort(ac)
	slices.Sort(bc)
	return slices.Equal(ac, bc)
}

// SecurityDescriptor exposes security configuration for metadata handlers to advertise.
type SecurityDescriptor interface{ SecurityConfig() SecurityConfig }

// SecurityProvider combines validation + descriptor. Returned by constructors.
type SecurityProvider interface {
	Introspector
	SecurityDescriptor
}
