// Package discovery serves the public OAuth discovery documents of a protected
// resource: RFC 9728 protected resource metadata and a mirror of the RFC 8414
// authorization server metadata.
//
// Both documents are unauthenticated and CORS-open since OAuth clients fetch
// them cross-origin while bootstrapping. The protected resource document is
// also served for any path below its well-known location because some
// clients append the resource path (e.g. /.well-known/oauth-protected-resource/mcp).
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/elnormous/contenttype"

	"github.com/ggoodman/mcp-resource-gate/auth"
	"github.com/ggoodman/mcp-resource-gate/internal/httpx"
	"github.com/ggoodman/mcp-resource-gate/internal/logctx"
	"github.com/ggoodman/mcp-resource-gate/internal/wellknown"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

const (
	corsAllowMethods = "GET, OPTIONS"
	corsAllowHeaders = "Content-Type, Accept, Authorization, mcp-protocol-version"
	corsMaxAge       = "600"
)

// AuthorizationServerMetadata is the RFC 8414 document served at
// /.well-known/oauth-authorization-server.
type AuthorizationServerMetadata = wellknown.AuthServerMetadata

// Config is the process-wide discovery configuration. It is read once at
// start-up; the handler copies it and never mutates it afterwards.
type Config struct {
	// AuthorizationServers lists issuers whose tokens this resource accepts.
	AuthorizationServers []string
	ScopesSupported      []string
	// BearerMethodsSupported defaults to ["header"].
	BearerMethodsSupported []string
	ResourceName           string
	ResourceDocumentation  string
	// AuthorizationServer is mirrored at the authorization server metadata
	// path. When nil it is synthesized from the first authorization server.
	AuthorizationServer *AuthorizationServerMetadata
}

// DefaultAuthorizationServer synthesizes metadata for an issuer that follows
// the common /oauth2/* endpoint layout with public PKCE clients.
func DefaultAuthorizationServer(issuer string, scopes []string) *AuthorizationServerMetadata {
	base := strings.TrimSuffix(issuer, "/")
	return &AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             base + "/oauth2/authorize",
		TokenEndpoint:                     base + "/oauth2/token",
		RegistrationEndpoint:              base + "/oauth2/register",
		ScopesSupported:                   slices.Clone(scopes),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}
}

// FromSecurityConfig derives a Config from what an introspector enforces and
// learned through OIDC discovery, so advertised metadata cannot drift from
// validation.
func FromSecurityConfig(sc auth.SecurityConfig) Config {
	cfg := Config{AuthorizationServers: []string{sc.Issuer}}
	if sc.OIDC == nil {
		as := DefaultAuthorizationServer(sc.Issuer, nil)
		as.JwksURI = sc.JWKSURL
		cfg.AuthorizationServer = as
		return cfg
	}
	o := sc.OIDC
	cfg.ScopesSupported = slices.Clone(o.ScopesSupported)
	cfg.ResourceDocumentation = o.ServiceDocumentation
	cfg.AuthorizationServer = &AuthorizationServerMetadata{
		Issuer:                                     sc.Issuer,
		AuthorizationEndpoint:                      o.AuthorizationEndpoint,
		TokenEndpoint:                              o.TokenEndpoint,
		RegistrationEndpoint:                       o.RegistrationEndpoint,
		JwksURI:                                    sc.JWKSURL,
		ScopesSupported:                            slices.Clone(o.ScopesSupported),
		ResponseTypesSupported:                     slices.Clone(o.ResponseTypesSupported),
		ResponseModesSupported:                     slices.Clone(o.ResponseModesSupported),
		GrantTypesSupported:                        slices.Clone(o.GrantTypesSupported),
		CodeChallengeMethodsSupported:              slices.Clone(o.CodeChallengeMethodsSupported),
		TokenEndpointAuthMethodsSupported:          slices.Clone(o.TokenEndpointAuthMethodsSupported),
		TokenEndpointAuthSigningAlgValuesSupported: slices.Clone(o.TokenEndpointAuthSigningAlgValuesSupported),
		ServiceDocumentation:                       o.ServiceDocumentation,
		OpPolicyURI:                                o.OpPolicyURI,
		OpTosURI:                                   o.OpTosURI,
	}
	if len(cfg.AuthorizationServer.ResponseTypesSupported) == 0 {
		cfg.AuthorizationServer.ResponseTypesSupported = []string{"code"}
	}
	return cfg
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for encode failures. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// Handler serves the well-known discovery documents.
type Handler struct {
	cfg Config
	as  AuthorizationServerMetadata
	log *slog.Logger
	mux *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

// New validates cfg and returns a Handler serving it.
func New(cfg Config, opts ...Option) (*Handler, error) {
	if len(cfg.AuthorizationServers) == 0 {
		return nil, errors.New("discovery: at least one authorization server is required")
	}
	for _, s := range cfg.AuthorizationServers {
		if s == "" {
			return nil, errors.New("discovery: empty authorization server entry")
		}
	}

	h := &Handler{log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)

	h.cfg = Config{
		AuthorizationServers:   slices.Clone(cfg.AuthorizationServers),
		ScopesSupported:        slices.Clone(cfg.ScopesSupported),
		BearerMethodsSupported: slices.Clone(cfg.BearerMethodsSupported),
		ResourceName:           cfg.ResourceName,
		ResourceDocumentation:  cfg.ResourceDocumentation,
	}
	if len(h.cfg.BearerMethodsSupported) == 0 {
		h.cfg.BearerMethodsSupported = []string{"header"}
	}
	if cfg.AuthorizationServer != nil {
		h.as = *cfg.AuthorizationServer
	} else {
		h.as = *DefaultAuthorizationServer(cfg.AuthorizationServers[0], cfg.ScopesSupported)
	}
	if h.as.Issuer == "" {
		h.as.Issuer = cfg.AuthorizationServers[0]
	}
	if len(h.as.ScopesSupported) == 0 {
		h.as.ScopesSupported = slices.Clone(cfg.ScopesSupported)
	}

	h.mux = http.NewServeMux()
	h.Register(h.mux)
	return h, nil
}

// Register installs the discovery routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	prm := wellknown.ProtectedResourcePath
	as := wellknown.AuthorizationServerPath

	mux.HandleFunc(fmt.Sprintf("GET %s", prm), h.handleGetProtectedResourceMetadata)
	mux.HandleFunc(fmt.Sprintf("GET %s/{suffix...}", prm), h.handleGetProtectedResourceMetadata)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", prm), h.handleOptions)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s/{suffix...}", prm), h.handleOptions)

	mux.HandleFunc(fmt.Sprintf("GET %s", as), h.handleGetAuthorizationServerMetadata)
	mux.HandleFunc(fmt.Sprintf("GET %s/{suffix...}", as), h.handleGetAuthorizationServerMetadata)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", as), h.handleOptions)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s/{suffix...}", as), h.handleOptions)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// ProtectedResourceMetadata returns the document served for r.
func (h *Handler) ProtectedResourceMetadata(r *http.Request) wellknown.ProtectedResourceMetadata {
	return wellknown.ProtectedResourceMetadata{
		Resource:               httpx.BaseURL(r),
		AuthorizationServers:   slices.Clone(h.cfg.AuthorizationServers),
		ScopesSupported:        slices.Clone(h.cfg.ScopesSupported),
		BearerMethodsSupported: slices.Clone(h.cfg.BearerMethodsSupported),
		ResourceName:           h.cfg.ResourceName,
		ResourceDocumentation:  h.cfg.ResourceDocumentation,
	}
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
	w.Header().Set("Access-Control-Max-Age", corsMaxAge)
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the OAuth2 Protected Resource Metadata document.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, "prm", h.ProtectedResourceMetadata(r))
}

// handleGetAuthorizationServerMetadata serves a mirror or synthesized
// Authorization Server Metadata (RFC 8414). It does not imply this process
// acts as an authorization server.
func (h *Handler) handleGetAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, "asm", h.as)
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, doc string, v any) {
	setCORS(w)
	w.Header().Set("Vary", "Origin")
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		h.log.InfoContext(r.Context(), doc+".negotiate.fail", slog.String("accept", r.Header.Get("Accept")))
		http.Error(w, "metadata is only available as application/json", http.StatusNotAcceptable)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.ErrorContext(r.Context(), doc+".encode.fail", slog.String("err", err.Error()))
	}
}
