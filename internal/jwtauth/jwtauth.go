package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for access tokens.
// It is used by discovery-based verifiers to enforce issuer, audience,
// scope, algorithm, and clock-skew policies.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by any
	// additional accepted audiences. An empty list disables the audience check,
	// which is only appropriate when the issuer scopes audiences itself (for
	// example per-client audiences as issued by hosted identity providers).
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs       []string
	Leeway            time.Duration
	// RequireATJWT enforces the RFC 9068 "at+jwt" typ header.
	RequireATJWT bool
	// AdvertisedScopes optionally rewrites the scopes learned via discovery
	// before they are published in metadata documents. It never affects
	// validation.
	AdvertisedScopes func(discovered []string) []string
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs:  []string{"RS256"},
		Leeway:       60 * time.Second,
		RequireATJWT: true,
	}
}

// Claims is the verified claim set of an access token.
type Claims map[string]any

// Verifier validates access tokens and returns their claims. Implementations
// MUST perform signature, issuer, audience and time validations.
type Verifier interface {
	Verify(ctx context.Context, tok string) (Claims, error)
}

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not satisfy the
// required scopes policy.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// DiscoveryMetadata exposes advertisement-only endpoints learned via OIDC
// discovery. Implementations may return empty values if not applicable.
type DiscoveryMetadata interface {
	AuthorizationEndpoint() string
	TokenEndpoint() string
	RegistrationEndpoint() string
	JWKSURI() string
	ResponseTypes() []string
	Scopes() []string
	GrantTypes() []string
	ResponseModes() []string
	CodeChallengeMethods() []string
	TokenEndpointAuthMethods() []string
	TokenEndpointAuthAlgs() []string
	ServiceDocumentation() string
	PolicyURI() string
	TosURI() string
}

type discoveryVerifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
	// expected fields derived from discovery
	iss                   string
	jwksURI               string
	authorizationEndpoint string
	tokenEndpoint         string
	registrationEndpoint  string
	responseTypes         []string
	scopes                []string
	grantTypes            []string
	responseModes         []string
	codeChallengeMethods  []string
	tokenAuthMethods      []string
	tokenAuthAlgs         []string
	serviceDoc            string
	policyURI             string
	tosURI                string
}

var _ DiscoveryMetadata = (*discoveryVerifier)(nil)

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer, and
// constructs a Verifier that validates access tokens using the configured
// policies in Config. JWKS keys are auto-refreshed.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*discoveryVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer        string   `json:"issuer"`
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		Registration  string   `json:"registration_endpoint"`
		ResponseTypes []string `json:"response_types_supported"`
		Scopes        []string `json:"scopes_supported"`
		GrantTypes    []string `json:"grant_types_supported"`
		ResponseModes []string `json:"response_modes_supported"`
		CodeChallenge []string `json:"code_challenge_methods_supported"`
		TokenAuth     []string `json:"token_endpoint_auth_methods_supported"`
		TokenAuthAlgs []string `json:"token_endpoint_auth_signing_alg_values_supported"`
		ServiceDoc    string   `json:"service_documentation"`
		PolicyURI     string   `json:"op_policy_uri"`
		TosURI        string   `json:"op_tos_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.Authorization == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if meta.Token == "" {
		missing = append(missing, "token_endpoint")
	}
	if len(meta.ResponseTypes) == 0 {
		missing = append(missing, "response_types_supported")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	// Auto-refreshing JWKS
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryVerifier{
		cfg:                   cfg,
		keyfunc:               restrictAlgs(cfg.AllowedAlgs, kf.Keyfunc),
		iss:                   meta.Issuer,
		jwksURI:               meta.JwksURI,
		authorizationEndpoint: meta.Authorization,
		tokenEndpoint:         meta.Token,
		responseTypes:         slices.Clone(meta.ResponseTypes),
		registrationEndpoint:  meta.Registration,
		scopes:                slices.Clone(meta.Scopes),
		grantTypes:            slices.Clone(meta.GrantTypes),
		responseModes:         slices.Clone(meta.ResponseModes),
		codeChallengeMethods:  slices.Clone(meta.CodeChallenge),
		tokenAuthMethods:      slices.Clone(meta.TokenAuth),
		tokenAuthAlgs:         slices.Clone(meta.TokenAuthAlgs),
		serviceDoc:            meta.ServiceDoc,
		policyURI:             meta.PolicyURI,
		tosURI:                meta.TosURI,
	}, nil
}

// Extended discovery accessors used by outer layers to populate advertisement metadata.
func (a *discoveryVerifier) AuthorizationEndpoint() string      { return a.authorizationEndpoint }
func (a *discoveryVerifier) TokenEndpoint() string              { return a.tokenEndpoint }
func (a *discoveryVerifier) RegistrationEndpoint() string       { return a.registrationEndpoint }
func (a *discoveryVerifier) JWKSURI() string                    { return a.jwksURI }
func (a *discoveryVerifier) ResponseTypes() []string            { return slices.Clone(a.responseTypes) }
func (a *discoveryVerifier) Scopes() []string                   { return slices.Clone(a.scopes) }
func (a *discoveryVerifier) GrantTypes() []string               { return slices.Clone(a.grantTypes) }
func (a *discoveryVerifier) ResponseModes() []string            { return slices.Clone(a.responseModes) }
func (a *discoveryVerifier) CodeChallengeMethods() []string     { return slices.Clone(a.codeChallengeMethods) }
func (a *discoveryVerifier) TokenEndpointAuthMethods() []string { return slices.Clone(a.tokenAuthMethods) }
func (a *discoveryVerifier) TokenEndpointAuthAlgs() []string    { return slices.Clone(a.tokenAuthAlgs) }
func (a *discoveryVerifier) ServiceDocumentation() string       { return a.serviceDoc }
func (a *discoveryVerifier) PolicyURI() string                  { return a.policyURI }
func (a *discoveryVerifier) TosURI() string                     { return a.tosURI }

// Issuer returns the issuer as advertised by the discovery document.
func (a *discoveryVerifier) Issuer() string { return a.iss }

func (a *discoveryVerifier) Verify(ctx context.Context, tok string) (Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	// Build parser options. If exactly one expected audience is configured we
	// can leverage the parser's built-in audience enforcement. If multiple are
	// present we perform intersection logic after parsing.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.iss),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if len(a.cfg.ExpectedAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(a.cfg.ExpectedAudiences[0]))
	}
	parser := jwt.NewParser(opts...)

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

	now := time.Now().Add(a.cfg.Leeway)

	if iss, _ := claims["iss"].(string); iss == "" || iss != a.iss {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	}
	if len(a.cfg.ExpectedAudiences) > 0 && !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if iatf, ok := claims["iat"].(float64); ok {
		// basic sanity: not too far in the future
		iat := time.Unix(int64(iatf), 0)
		if iat.After(now.Add(5 * time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	if err := checkScopes(a.cfg.RequiredScopes, a.cfg.ScopeModeAny, scopeClaim(claims)); err != nil {
		return nil, err
	}

	return Claims(claims), nil
}

// checkTyp enforces the RFC 9068 "at+jwt" typ header when required.
func checkTyp(required bool, tok *jwt.Token) error {
	if !required {
		return nil
	}
	if typ, _ := tok.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
	}
	return nil
}

// scopeClaim returns the "scope" claim, falling back to "scp" as used by
// several hosted identity providers.
func scopeClaim(claims jwt.MapClaims) any {
	if v, ok := claims["scope"]; ok {
		return v
	}
	return claims["scp"]
}

// checkScopes enforces the required scope policy against a scope claim that
// may be a space-delimited string or a JSON array.
func checkScopes(required []string, anyMode bool, claim any) error {
	if len(required) == 0 {
		return nil
	}
	have := map[string]bool{}
	switch v := claim.(type) {
	case string:
		for _, s := range strings.Fields(v) {
			have[s] = true
		}
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				have[s] = true
			}
		}
	}
	if anyMode {
		for _, want := range required {
			if have[want] {
				return nil
			}
		}
		return ErrInsufficientScope
	}
	for _, want := range required {
		if !have[want] {
			return ErrInsufficientScope
		}
	}
	return nil
}

func restrictAlgs(allowed []string, next jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		if !slices.Contains(allowed, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return next(t)
	}
}
