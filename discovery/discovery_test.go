package discovery

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/ggoodman/mcp-resource-gate/auth"
	"github.com/ggoodman/mcp-resource-gate/internal/wellknown"
)

func mustHandler(t *testing.T, cfg Config) *Handler {
	t.Helper()
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func testConfig() Config {
	return Config{
		AuthorizationServers: []string{"https://auth.example.com"},
		ScopesSupported:      []string{"openid", "email", "profile"},
	}
}

func TestProtectedResourceMetadata_ResourceFromRequest(t *testing.T) {
	h := mustHandler(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	req.Host = "example.com"
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var doc wellknown.ProtectedResourceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Resource != "https://example.com" {
		t.Fatalf("resource = %q", doc.Resource)
	}
	if !reflect.DeepEqual(doc.AuthorizationServers, []string{"https://auth.example.com"}) {
		t.Fatalf("authorization_servers = %v", doc.AuthorizationServers)
	}
	if !reflect.DeepEqual(doc.ScopesSupported, []string{"openid", "email", "profile"}) {
		t.Fatalf("scopes_supported = %v", doc.ScopesSupported)
	}
	if !reflect.DeepEqual(doc.BearerMethodsSupported, []string{"header"}) {
		t.Fatalf("bearer_methods_supported = %v", doc.BearerMethodsSupported)
	}
}

func TestProtectedResourceMetadata_ForwardedHeaders(t *testing.T) {
	h := mustHandler(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	req.Host = "api.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var doc wellknown.ProtectedResourceMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Resource != "https://api.example.com" {
		t.Fatalf("resource = %q", doc.Resource)
	}
}

func TestProtectedResourceMetadata_SuffixVariant(t *testing.T) {
	h := mustHandler(t, testConfig())

	get := func(path string) string {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Host = "example.com"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, rec.Code)
		}
		return rec.Body.String()
	}

	exact := get("/.well-known/oauth-protected-resource")
	for _, p := range []string{
		"/.well-known/oauth-protected-resource/",
		"/.well-known/oauth-protected-resource/mcp",
		"/.well-known/oauth-protected-resource/api/v1/mcp",
	} {
		if got := get(p); got != exact {
			t.Fatalf("GET %s = %s, want %s", p, got, exact)
		}
	}
}

func TestOptionsPreflight(t *testing.T) {
	h := mustHandler(t, testConfig())
	for _, p := range []string{
		"/.well-known/oauth-protected-resource",
		"/.well-known/oauth-protected-resource/mcp",
		"/.well-known/oauth-authorization-server",
	} {
		req := httptest.NewRequest(http.MethodOptions, p, nil)
		req.Header.Set("Origin", "https://client.example")
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("OPTIONS %s status = %d", p, rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("OPTIONS %s missing ACAO", p)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") != corsAllowMethods {
			t.Fatalf("OPTIONS %s ACAM = %q", p, rec.Header().Get("Access-Control-Allow-Methods"))
		}
		if rec.Header().Get("Access-Control-Allow-Headers") != corsAllowHeaders {
			t.Fatalf("OPTIONS %s ACAH = %q", p, rec.Header().Get("Access-Control-Allow-Headers"))
		}
	}
}

func TestAuthorizationServerMetadata_Synthesized(t *testing.T) {
	h := mustHandler(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var meta AuthorizationServerMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := AuthorizationServerMetadata{
		Issuer:                            "https://auth.example.com",
		AuthorizationEndpoint:             "https://auth.example.com/oauth2/authorize",
		TokenEndpoint:                     "https://auth.example.com/oauth2/token",
		RegistrationEndpoint:              "https://auth.example.com/oauth2/register",
		ScopesSupported:                   []string{"openid", "email", "profile"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}
	if !reflect.DeepEqual(meta, want) {
		t.Fatalf("metadata = %+v\nwant %+v", meta, want)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing ACAO")
	}
}

func TestFromSecurityConfig(t *testing.T) {
	sc := auth.SecurityConfig{
		Issuer:  "https://issuer.example",
		JWKSURL: "https://issuer.example/keys",
		OIDC: &auth.OIDCExtra{
			AuthorizationEndpoint:             "https://issuer.example/oauth2/auth",
			TokenEndpoint:                     "https://issuer.example/oauth2/token",
			RegistrationEndpoint:              "https://issuer.example/connect/register",
			ScopesSupported:                   []string{"mcp:read"},
			GrantTypesSupported:               []string{"authorization_code"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			TokenEndpointAuthMethodsSupported: []string{"client_secret_basic"},
		},
	}
	cfg := FromSecurityConfig(sc)
	if !reflect.DeepEqual(cfg.AuthorizationServers, []string{"https://issuer.example"}) {
		t.Fatalf("authorization servers = %v", cfg.AuthorizationServers)
	}
	if !reflect.DeepEqual(cfg.ScopesSupported, []string{"mcp:read"}) {
		t.Fatalf("scopes = %v", cfg.ScopesSupported)
	}
	as := cfg.AuthorizationServer
	if as.RegistrationEndpoint != "https://issuer.example/connect/register" || as.JwksURI != "https://issuer.example/keys" {
		t.Fatalf("unexpected as metadata %+v", as)
	}
	if !reflect.DeepEqual(as.ResponseTypesSupported, []string{"code"}) {
		t.Fatalf("response types = %v", as.ResponseTypesSupported)
	}

	sc.OIDC.ScopesSupported[0] = "mutated"
	if cfg.ScopesSupported[0] != "mcp:read" {
		t.Fatalf("config aliases security config")
	}

	manual := FromSecurityConfig(auth.SecurityConfig{Issuer: "https://issuer.example", JWKSURL: "https://issuer.example/jwks"})
	if manual.AuthorizationServer.TokenEndpoint != "https://issuer.example/oauth2/token" || manual.AuthorizationServer.JwksURI != "https://issuer.example/jwks" {
		t.Fatalf("manual metadata = %+v", manual.AuthorizationServer)
	}
}

func TestNotAcceptable(t *testing.T) {
	h := mustHandler(t, testConfig())
	tests := []struct {
		accept string
		want   int
	}{
		{"", http.StatusOK},
		{"*/*", http.StatusOK},
		{"application/json", http.StatusOK},
		{"text/html, application/json;q=0.5", http.StatusOK},
		{"text/html", http.StatusNotAcceptable},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Accept %q: status = %d, want %d", tt.accept, rec.Code, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without authorization servers")
	}
	if _, err := New(Config{AuthorizationServers: []string{""}}); err == nil {
		t.Fatalf("expected error for empty authorization server")
	}
}

func TestRegister(t *testing.T) {
	h := mustHandler(t, testConfig())
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource/mcp", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
