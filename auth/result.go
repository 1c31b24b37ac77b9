package auth

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// IntrospectionResult carries the verified claims of a bearer token. Values are
// produced by an Introspector and treated as immutable afterwards.
type IntrospectionResult struct {
	Subject   string
	Issuer    string
	Audience  []string
	Scopes    []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	// TokenID is the "jti" claim when the issuer provides one.
	TokenID string
	// CustomClaims holds every claim not mapped to a field above.
	CustomClaims map[string]any
}

// Expired reports whether the result carries an expiry that lies before now.
// A zero ExpiresAt never expires.
func (r *IntrospectionResult) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ParseScopes normalizes a scope claim. OAuth servers emit either a single
// space-delimited string or a JSON array; both are accepted.
func ParseScopes(v any) []string {
	switch s := v.(type) {
	case string:
		return strings.Fields(s)
	case []string:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if e = strings.TrimSpace(e); e != "" {
				out = append(out, e)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok && strings.TrimSpace(str) != "" {
				out = append(out, strings.TrimSpace(str))
			}
		}
		return out
	}
	return nil
}

// AuthContext is the per-request result of a successful gate pass: the raw
// token plus the claims it was verified to carry. It lives for one request and
// is never persisted.
type AuthContext struct {
	Token  string
	Result IntrospectionResult
}

// ClientID identifies the OAuth client the token was issued to. It is the
// first audience entry, falling back to a "client_id" custom claim.
func (a *AuthContext) ClientID() string {
	if len(a.Result.Audience) > 0 {
		return a.Result.Audience[0]
	}
	if v, ok := a.Result.CustomClaims["client_id"].(string); ok {
		return v
	}
	return ""
}

// Subject returns the "sub" claim.
func (a *AuthContext) Subject() string { return a.Result.Subject }

// Scopes returns a copy of the granted scopes.
func (a *AuthContext) Scopes() []string { return slices.Clone(a.Result.Scopes) }

// HasScope reports whether scope was granted.
func (a *AuthContext) HasScope(scope string) bool { return slices.Contains(a.Result.Scopes, scope) }

// ExpiresAt returns the token expiry (zero if the issuer did not provide one).
func (a *AuthContext) ExpiresAt() time.Time { return a.Result.ExpiresAt }

// Claims unmarshals the custom claims into the provided struct reference.
func (a *AuthContext) Claims(ref any) error {
	b, err := json.Marshal(a.Result.CustomClaims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

type authContextKey struct{}

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext returns the AuthContext stored by the gate, if any.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok && ac != nil
}
