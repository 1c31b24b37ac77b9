package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-resource-gate/auth"
	"github.com/ggoodman/mcp-resource-gate/auth/authtest"
)

func TestParseBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc.def", want: "abc.def"},
		{name: "surrounding whitespace trimmed", header: "Bearer   tok  ", want: "tok"},
		{name: "empty header", header: "", wantErr: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "lowercase scheme", header: "bearer tok", wantErr: true},
		{name: "no token", header: "Bearer ", wantErr: true},
		{name: "whitespace token", header: "Bearer    ", wantErr: true},
		{name: "scheme only", header: "Bearer", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auth.ParseBearerToken(tt.header)
			if tt.wantErr {
				if !errors.Is(err, auth.ErrMissingCredential) {
					t.Fatalf("expected ErrMissingCredential, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	valid := auth.IntrospectionResult{
		Subject:      "user-1",
		Audience:     []string{"client-a"},
		Scopes:       []string{"openid", "email"},
		ExpiresAt:    time.Now().Add(time.Hour),
		CustomClaims: map[string]any{"email": "u@example.com"},
	}
	expired := valid
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	noExpiry := valid
	noExpiry.ExpiresAt = time.Time{}

	in := authtest.NewStaticIntrospector(map[string]auth.IntrospectionResult{
		"good":      valid,
		"expired":   expired,
		"no-expiry": noExpiry,
	})

	tests := []struct {
		name    string
		in      auth.Introspector
		token   string
		wantErr error
	}{
		{name: "valid", in: in, token: "good"},
		{name: "no expiry never expires", in: in, token: "no-expiry"},
		{name: "empty token", in: in, token: "", wantErr: auth.ErrMissingCredential},
		{name: "unknown token", in: in, token: "nope", wantErr: auth.ErrInvalidCredential},
		{name: "expired", in: in, token: "expired", wantErr: auth.ErrInvalidCredential},
		{name: "nil introspector", in: nil, token: "good", wantErr: auth.ErrUpstreamUnavailable},
		{
			name:    "upstream error",
			in:      authtest.ErrorIntrospector{Err: errors.Join(auth.ErrUpstreamUnavailable, errors.New("dial tcp: refused"))},
			token:   "good",
			wantErr: auth.ErrUpstreamUnavailable,
		},
		{
			name:    "deadline exceeded",
			in:      authtest.ErrorIntrospector{Err: context.DeadlineExceeded},
			token:   "good",
			wantErr: auth.ErrUpstreamUnavailable,
		},
		{
			name:    "plain error is a rejection",
			in:      authtest.ErrorIntrospector{Err: errors.New("signature mismatch")},
			token:   "good",
			wantErr: auth.ErrInvalidCredential,
		},
		{
			name: "nil result",
			in: auth.IntrospectorFunc(func(context.Context, string) (*auth.IntrospectionResult, error) {
				return nil, nil
			}),
			token:   "good",
			wantErr: auth.ErrInvalidCredential,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac, err := auth.Authenticate(context.Background(), tt.in, tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if ac != nil {
					t.Fatalf("expected nil AuthContext on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ac.Token != tt.token {
				t.Fatalf("token = %q, want %q", ac.Token, tt.token)
			}
			if ac.ClientID() != "client-a" {
				t.Fatalf("client id = %q", ac.ClientID())
			}
			if !ac.HasScope("email") || ac.HasScope("admin") {
				t.Fatalf("unexpected scopes %v", ac.Scopes())
			}
		})
	}
}

func TestAuthenticate_TimeoutIsUpstream(t *testing.T) {
	in := authtest.SlowIntrospector{Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := auth.Authenticate(ctx, in, "tok")
	if !errors.Is(err, auth.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if got := auth.Reason(err); got != auth.ReasonUpstreamUnavailable {
		t.Fatalf("reason = %q", got)
	}
}

func TestAuthenticate_NoCaching(t *testing.T) {
	in := authtest.NewStaticIntrospector(map[string]auth.IntrospectionResult{
		"tok": {Subject: "s", Audience: []string{"c"}},
	})
	for i := 0; i < 3; i++ {
		if _, err := auth.Authenticate(context.Background(), in, "tok"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if in.Calls() != 3 {
		t.Fatalf("expected 3 introspections, got %d", in.Calls())
	}

	in.Delete("tok")
	if _, err := auth.Authenticate(context.Background(), in, "tok"); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("expected rejection after upstream revoked token, got %v", err)
	}
}

func TestAuthenticate_ResultIsolated(t *testing.T) {
	in := authtest.NewStaticIntrospector(map[string]auth.IntrospectionResult{
		"tok": {Scopes: []string{"a"}, CustomClaims: map[string]any{"k": "v"}},
	})
	first, err := auth.Authenticate(context.Background(), in, "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.Result.Scopes[0] = "mutated"
	first.Result.CustomClaims["k"] = "mutated"

	second, err := auth.Authenticate(context.Background(), in, "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Result.Scopes[0] != "a" || second.Result.CustomClaims["k"] != "v" {
		t.Fatalf("result leaked between requests: %+v", second.Result)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, auth.ReasonOK},
		{auth.ErrMissingCredential, auth.ReasonMissingCredential},
		{auth.ErrInvalidCredential, auth.ReasonInvalidCredential},
		{errors.Join(auth.ErrInvalidCredential, auth.ErrInsufficientScope), auth.ReasonInvalidCredential},
		{errors.Join(auth.ErrUpstreamUnavailable, context.DeadlineExceeded), auth.ReasonUpstreamUnavailable},
		{errors.New("other"), auth.ReasonInvalidCredential},
	}
	for _, tt := range tests {
		if got := auth.Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAuthContext(t *testing.T) {
	ac := &auth.AuthContext{
		Token: "tok",
		Result: auth.IntrospectionResult{
			Subject:      "user-1",
			CustomClaims: map[string]any{"client_id": "cli", "email": "u@example.com", "email_verified": true},
		},
	}
	if ac.ClientID() != "cli" {
		t.Fatalf("client id fallback = %q", ac.ClientID())
	}

	var profile struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := ac.Claims(&profile); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if profile.Email != "u@example.com" || !profile.EmailVerified {
		t.Fatalf("unexpected profile %+v", profile)
	}

	ctx := auth.WithAuthContext(context.Background(), ac)
	got, ok := auth.FromContext(ctx)
	if !ok || got != ac {
		t.Fatalf("FromContext did not return stored AuthContext")
	}
	if _, ok := auth.FromContext(context.Background()); ok {
		t.Fatalf("expected no AuthContext in empty context")
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"string", "a b  c", []string{"a", "b", "c"}},
		{"string slice", []string{"a", " ", "b"}, []string{"a", "b"}},
		{"any slice", []any{"a", 1, "b"}, []string{"a", "b"}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auth.ParseScopes(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseScopes(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ParseScopes(%v) = %v, want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}
