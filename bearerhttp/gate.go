package bearerhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggoodman/mcp-resource-gate/auth"
	"github.com/ggoodman/mcp-resource-gate/internal/logctx"
	"github.com/ggoodman/mcp-resource-gate/internal/wellknown"
)

const (
	// DefaultIntrospectionTimeout bounds a single introspection call.
	DefaultIntrospectionTimeout = 5 * time.Second

	tracerName = "github.com/ggoodman/mcp-resource-gate/bearerhttp"

	// OutcomeCanceled labels requests whose client went away before
	// introspection finished. It is never counted as an upstream failure.
	OutcomeCanceled = "canceled"
)

// HandlerFunc is a handler that receives the verified AuthContext explicitly.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, ac *auth.AuthContext)

// Option configures a Gate.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	realm          string
	timeout        time.Duration
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	prmPath        string
}

// WithLogger sets the logger used for auth.check.* events. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. If empty (default), the realm attribute is omitted entirely per
// RFC 6750 (it is optional).
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = strings.TrimSpace(realm) }
}

// WithIntrospectionTimeout bounds each introspection call. An introspection
// that does not finish in time counts as an upstream failure. Non-positive
// values keep the default.
func WithIntrospectionTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records gate outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithTracerProvider sets the provider used for introspection spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithResourceMetadataPath overrides the path advertised in resource_metadata.
func WithResourceMetadataPath(p string) Option {
	return func(c *config) {
		if p != "" && !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		c.prmPath = p
	}
}

// Gate admits requests carrying a bearer token that its Introspector accepts.
// It is safe for concurrent use and holds no per-token state.
type Gate struct {
	in      auth.Introspector
	log     *slog.Logger
	realm   string
	timeout time.Duration
	metrics *Metrics
	tracer  trace.Tracer
	prmPath string
}

// New constructs a Gate around in.
func New(in auth.Introspector, opts ...Option) (*Gate, error) {
	if in == nil {
		return nil, errors.New("introspector is required")
	}
	cfg := &config{
		logger:  slog.Default(),
		timeout: DefaultIntrospectionTimeout,
		prmPath: wellknown.ProtectedResourcePath,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}
	if cfg.prmPath == "" {
		cfg.prmPath = wellknown.ProtectedResourcePath
	}
	return &Gate{
		in:      in,
		log:     logctx.Wrap(cfg.logger),
		realm:   cfg.realm,
		timeout: cfg.timeout,
		metrics: cfg.metrics,
		tracer:  cfg.tracerProvider.Tracer(tracerName),
		prmPath: cfg.prmPath,
	}, nil
}

// Authenticate verifies the request's bearer token. The returned error wraps
// one of auth.ErrMissingCredential, auth.ErrInvalidCredential or
// auth.ErrUpstreamUnavailable.
func (g *Gate) Authenticate(r *http.Request) (*auth.AuthContext, error) {
	ctx := r.Context()

	tok, err := auth.ParseBearerToken(r.Header.Get(authorizationHeader))
	if err != nil {
		g.record(ctx, auth.Reason(err), err)
		return nil, err
	}

	ac, err := g.introspect(ctx, tok)
	g.record(ctx, outcome(ctx, err), err)
	if err != nil {
		return nil, err
	}
	return ac, nil
}

func (g *Gate) introspect(parent context.Context, tok string) (*auth.AuthContext, error) {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	ctx, span := g.tracer.Start(ctx, "bearerhttp.introspect", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	ac, err := auth.Authenticate(ctx, g.in, tok)
	reason := outcome(parent, err)
	g.metrics.observeIntrospection(reason, time.Since(start))

	span.SetAttributes(attribute.String("auth.outcome", reason))
	if err != nil {
		span.SetStatus(codes.Error, reason)
	}
	return ac, err
}

// outcome labels err for logs and metrics. A failure that coincides with the
// request context ending is attributed to the client, not the upstream: only
// the gate's own timeout counts as an introspection outage.
func outcome(reqCtx context.Context, err error) string {
	if err != nil && reqCtx.Err() != nil {
		return OutcomeCanceled
	}
	return auth.Reason(err)
}

func (g *Gate) record(ctx context.Context, reason string, err error) {
	g.metrics.observeRequest(reason)

	switch reason {
	case auth.ReasonOK:
		g.log.DebugContext(ctx, "auth.check.ok")
	case OutcomeCanceled:
		g.log.DebugContext(ctx, "auth.check.canceled", slog.String("err", err.Error()))
	case auth.ReasonMissingCredential:
		g.log.InfoContext(ctx, "auth.check.missing", slog.String("err", err.Error()))
	case auth.ReasonUpstreamUnavailable:
		g.log.ErrorContext(ctx, "auth.check.upstream", slog.String("err", err.Error()))
	default:
		g.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", err.Error()))
	}
}

// Middleware admits authenticated requests to next with the AuthContext
// stored in the request context. Everything else gets the uniform 401.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := g.Authenticate(r)
		if err != nil {
			g.WriteUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWith(r.Context(), ac)))
	})
}

// WrapFunc is like Middleware but passes the AuthContext as an argument.
func (g *Gate) WrapFunc(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := g.Authenticate(r)
		if err != nil {
			g.WriteUnauthorized(w, r)
			return
		}
		r = r.WithContext(contextWith(r.Context(), ac))
		fn(w, r, ac)
	})
}

func contextWith(ctx context.Context, ac *auth.AuthContext) context.Context {
	ctx = auth.WithAuthContext(ctx, ac)
	return logctx.WithAuthData(ctx, &logctx.AuthData{ClientID: ac.ClientID(), Subject: ac.Subject()})
}
