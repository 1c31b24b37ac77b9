// Package server assembles the HTTP surface of the resource server: public
// discovery documents, a health probe and the bearer-protected API and MCP
// endpoints.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ggoodman/mcp-resource-gate/auth"
	"github.com/ggoodman/mcp-resource-gate/bearerhttp"
	"github.com/ggoodman/mcp-resource-gate/discovery"
	"github.com/ggoodman/mcp-resource-gate/internal/logctx"
	"github.com/ggoodman/mcp-resource-gate/revocation"
)

// DefaultRevocationTTL bounds revocations of tokens without an expiry.
const DefaultRevocationTTL = 24 * time.Hour

type Options struct {
	// ResourceName and Version identify the MCP server implementation.
	ResourceName string
	Version      string
	// AllowedOrigins for browser clients of the protected routes. Defaults to "*".
	AllowedOrigins []string
}

type Deps struct {
	Gate      *bearerhttp.Gate
	Discovery *discovery.Handler
	// Revocations is optional; without it POST /api/revoke is not routed.
	Revocations revocation.Store
	Logger      *slog.Logger
}

type handlers struct {
	log         *slog.Logger
	revocations revocation.Store
}

// New builds the router.
func New(d Deps, opts Options) (http.Handler, error) {
	if d.Gate == nil {
		return nil, errors.New("server: gate is required")
	}
	if d.Discovery == nil {
		return nil, errors.New("server: discovery handler is required")
	}
	if opts.ResourceName == "" {
		opts.ResourceName = "mcp-resource-gate"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	h := &handlers{log: logctx.Wrap(d.Logger), revocations: d.Revocations}

	r := chi.NewRouter()

	// baseline
	r.Use(logctx.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthCheckHandler)

	// Public discovery documents carry their own CORS policy.
	r.Handle("/.well-known/*", d.Discovery)

	protectedCORS := cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version", "Last-Event-ID"},
		ExposedHeaders: []string{"WWW-Authenticate", "Mcp-Session-Id"},
		MaxAge:         600,
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(protectedCORS)
		api.Method(http.MethodGet, "/whoami", d.Gate.WrapFunc(h.whoami))
		if d.Revocations != nil {
			api.Method(http.MethodPost, "/revoke", d.Gate.WrapFunc(h.revoke))
		}
	})

	mcpServer := sdk.NewServer(&sdk.Implementation{Name: opts.ResourceName, Version: opts.Version}, nil)
	mcpHandler := sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return mcpServer }, nil)

	r.Route("/mcp", func(m chi.Router) {
		m.Use(protectedCORS)
		m.Use(d.Gate.Middleware)
		m.Handle("/", mcpHandler)
	})

	return r, nil
}

// RouteLabel maps a request path onto one of the routes New registers, or
// "other". Discovery paths with a resource suffix collapse to their
// well-known prefix, so the label set stays fixed.
func RouteLabel(r *http.Request) string {
	p := r.URL.Path
	for _, prefix := range []string{
		"/.well-known/oauth-protected-resource",
		"/.well-known/oauth-authorization-server",
		"/mcp",
	} {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return prefix
		}
	}
	switch p {
	case "/healthz", "/api/whoami", "/api/revoke":
		return p
	}
	return "other"
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type whoamiResponse struct {
	ClientID  string         `json:"client_id"`
	Subject   string         `json:"subject,omitempty"`
	Scopes    []string       `json:"scopes"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

func (h *handlers) whoami(w http.ResponseWriter, r *http.Request, ac *auth.AuthContext) {
	resp := whoamiResponse{
		ClientID: ac.ClientID(),
		Subject:  ac.Subject(),
		Scopes:   ac.Scopes(),
		Claims:   ac.Result.CustomClaims,
	}
	if resp.Scopes == nil {
		resp.Scopes = []string{}
	}
	if exp := ac.ExpiresAt(); !exp.IsZero() {
		exp = exp.UTC()
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

// revoke adds the caller's own token id to the revocation list.
func (h *handlers) revoke(w http.ResponseWriter, r *http.Request, ac *auth.AuthContext) {
	jti := ac.Result.TokenID
	if jti == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token has no jti claim"})
		return
	}
	until := ac.ExpiresAt()
	if until.IsZero() {
		until = time.Now().Add(DefaultRevocationTTL)
	}
	if err := h.revocations.Revoke(r.Context(), jti, until); err != nil {
		h.log.ErrorContext(r.Context(), "api.revoke.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "revocation failed"})
		return
	}
	h.log.InfoContext(r.Context(), "api.revoke", slog.String("jti", jti), slog.Time("until", until))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
