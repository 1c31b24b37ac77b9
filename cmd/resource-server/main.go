// Command resource-server runs an MCP endpoint behind OAuth 2.1 bearer token
// authentication. It is configured entirely from the environment; see
// internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ggoodman/mcp-resource-gate/auth"
	"github.com/ggoodman/mcp-resource-gate/auth/filetoken"
	"github.com/ggoodman/mcp-resource-gate/bearerhttp"
	"github.com/ggoodman/mcp-resource-gate/discovery"
	"github.com/ggoodman/mcp-resource-gate/internal/config"
	"github.com/ggoodman/mcp-resource-gate/internal/server"
	"github.com/ggoodman/mcp-resource-gate/revocation"
	"github.com/ggoodman/mcp-resource-gate/revocation/memory"
	"github.com/ggoodman/mcp-resource-gate/revocation/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	in, disc, err := buildIntrospector(ctx, cfg, log)
	if err != nil {
		return err
	}

	var store revocation.Store
	if cfg.RedisAddr != "" {
		rc := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rc.Close()
		store, err = redis.New(redis.Config{Client: rc})
	} else {
		store, err = memory.New(cfg.RevocationMaxEntries)
	}
	if err != nil {
		return err
	}
	defer store.Close()
	in = auth.WithRevocationCheck(in, store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gate, err := bearerhttp.New(in,
		bearerhttp.WithLogger(log),
		bearerhttp.WithIntrospectionTimeout(cfg.AuthTimeout),
		bearerhttp.WithMetrics(bearerhttp.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	disc.ResourceName = cfg.ResourceName
	dh, err := discovery.New(disc, discovery.WithLogger(log))
	if err != nil {
		return err
	}

	router, err := server.New(server.Deps{
		Gate:        gate,
		Discovery:   dh,
		Revocations: store,
		Logger:      log,
	}, server.Options{ResourceName: cfg.ResourceName, Version: version})
	if err != nil {
		return err
	}

	h := otelhttp.NewHandler(router, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + server.RouteLabel(r)
		}),
	)

	g.Go(func() error { return serve(ctx, log, "api", cfg.Addr, h) })
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		g.Go(func() error { return serve(ctx, log, "metrics", cfg.MetricsAddr, mux) })
	}

	log.Info("server.start",
		slog.String("mode", cfg.Mode()),
		slog.String("addr", cfg.Addr),
		slog.String("version", version),
	)
	return g.Wait()
}

// buildIntrospector selects the token verification strategy and the discovery
// configuration that advertises it.
func buildIntrospector(ctx context.Context, cfg config.Config, log *slog.Logger) (auth.Introspector, discovery.Config, error) {
	static := discovery.Config{
		AuthorizationServers: []string{cfg.AuthIssuer},
		ScopesSupported:      cfg.Scopes(),
	}

	switch cfg.Mode() {
	case config.ModeTokenFile:
		ft, err := filetoken.Load(cfg.AuthTokenFile, filetoken.WithLogger(log))
		if err != nil {
			return nil, discovery.Config{}, err
		}
		if err := ft.Watch(ctx); err != nil {
			return nil, discovery.Config{}, err
		}
		return ft, static, nil

	case config.ModeRemote:
		var opts []auth.RemoteOption
		if cfg.AuthClientID != "" {
			opts = append(opts, auth.WithClientCredentials(cfg.AuthClientID, cfg.AuthClientSecret))
		}
		ri, err := auth.NewRemoteIntrospector(cfg.AuthIntrospectionURL, opts...)
		if err != nil {
			return nil, discovery.Config{}, err
		}
		return ri, static, nil

	case config.ModeManual:
		sc := auth.SecurityConfig{
			Issuer:         cfg.AuthIssuer,
			JWKSURL:        cfg.AuthJWKSURL,
			RequiredScopes: cfg.RequiredScopes(),
			Leeway:         cfg.AuthLeeway,
			RequireATJWT:   cfg.AuthRequireATJWT,
		}
		if aud := cfg.Audience(); aud != "" {
			sc.Audiences = []string{aud}
		}
		sp, err := sc.NewManualJWTIntrospector(ctx)
		if err != nil {
			return nil, discovery.Config{}, err
		}
		dc := discovery.FromSecurityConfig(sp.SecurityConfig())
		dc.ScopesSupported = cfg.Scopes()
		return sp, dc, nil

	default:
		opts := []auth.AccessTokenOption{
			auth.WithLeeway(cfg.AuthLeeway),
			auth.WithAdvertisedScopes(auth.StaticScopes(cfg.Scopes()...)),
		}
		if !cfg.AuthRequireATJWT {
			opts = append(opts, auth.WithoutATJWTType())
		}
		if req := cfg.RequiredScopes(); len(req) > 0 {
			opts = append(opts, auth.WithRequiredScopes(req...))
		}
		sp, err := auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.Audience(), opts...)
		if err != nil {
			return nil, discovery.Config{}, fmt.Errorf("oidc discovery for %s: %w", cfg.AuthIssuer, err)
		}
		return sp, discovery.FromSecurityConfig(sp.SecurityConfig()), nil
	}
}

func serve(ctx context.Context, log *slog.Logger, name, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("server.listen", slog.String("listener", name), slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
