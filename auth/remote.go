package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteIntrospector verifies opaque tokens against an RFC 7662 token
// introspection endpoint. Every call issues a fresh request.
type RemoteIntrospector struct {
	endpoint     string
	clientID     string
	clientSecret string
	client       *http.Client
}

// RemoteOption configures a RemoteIntrospector.
type RemoteOption func(*RemoteIntrospector)

// WithClientCredentials authenticates introspection requests with HTTP basic
// auth, as most authorization servers require.
func WithClientCredentials(id, secret string) RemoteOption {
	return func(r *RemoteIntrospector) {
		r.clientID = id
		r.clientSecret = secret
	}
}

// WithHTTPClient overrides the HTTP client used for introspection requests.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *RemoteIntrospector) {
		if c != nil {
			r.client = c
		}
	}
}

// NewRemoteIntrospector returns an introspector bound to endpoint.
func NewRemoteIntrospector(endpoint string, opts ...RemoteOption) (*RemoteIntrospector, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid introspection endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid introspection endpoint %q: scheme must be http or https", endpoint)
	}
	r := &RemoteIntrospector{
		endpoint: u.String(),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// introspectionResponse is the RFC 7662 section 2.2 response body.
type introspectionResponse struct {
	Active    bool            `json:"active"`
	Scope     string          `json:"scope"`
	ClientID  string          `json:"client_id"`
	Username  string          `json:"username"`
	TokenType string          `json:"token_type"`
	Exp       int64           `json:"exp"`
	Iat       int64           `json:"iat"`
	Sub       string          `json:"sub"`
	Aud       json.RawMessage `json:"aud"`
	Iss       string          `json:"iss"`
	Jti       string          `json:"jti"`
}

var introspectionFields = map[string]bool{
	"active": true, "scope": true, "exp": true, "iat": true, "nbf": true,
	"sub": true, "aud": true, "iss": true, "jti": true,
}

// Introspect implements Introspector.
func (r *RemoteIntrospector) Introspect(ctx context.Context, token string) (*IntrospectionResult, error) {
	form := url.Values{"token": {token}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Join(ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if r.clientID != "" {
		req.SetBasicAuth(url.QueryEscape(r.clientID), url.QueryEscape(r.clientSecret))
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrUpstreamUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, errors.Join(ErrUpstreamUnavailable, err)
	}
	switch {
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: introspection endpoint returned %d", ErrUpstreamUnavailable, res.StatusCode)
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		// The endpoint rejected our client credentials, not the token.
		return nil, fmt.Errorf("%w: introspection endpoint refused client credentials (%d)", ErrUpstreamUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: introspection endpoint returned %d", ErrInvalidCredential, res.StatusCode)
	}

	var ir introspectionResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("%w: malformed introspection response: %v", ErrUpstreamUnavailable, err)
	}
	if !ir.Active {
		return nil, fmt.Errorf("%w: token is not active", ErrInvalidCredential)
	}

	out := &IntrospectionResult{
		Subject:      ir.Sub,
		Issuer:       ir.Iss,
		Scopes:       strings.Fields(ir.Scope),
		TokenID:      ir.Jti,
		CustomClaims: map[string]any{},
	}
	if len(ir.Aud) > 0 {
		var aud any
		if err := json.Unmarshal(ir.Aud, &aud); err == nil {
			out.Audience = ParseScopes(aud)
		}
	}
	if ir.Exp > 0 {
		out.ExpiresAt = time.Unix(ir.Exp, 0)
	}
	if ir.Iat > 0 {
		out.IssuedAt = time.Unix(ir.Iat, 0)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		for k, v := range raw {
			if !introspectionFields[k] {
				out.CustomClaims[k] = v
			}
		}
	}
	return out, nil
}

var _ Introspector = (*RemoteIntrospector)(nil)
