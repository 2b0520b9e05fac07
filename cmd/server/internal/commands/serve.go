package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"filippo.io/csrf"
	"github.com/wolfeidau/genjobs/internal/auth"
	"github.com/wolfeidau/genjobs/internal/backend"
	"github.com/wolfeidau/genjobs/internal/gateway"
	"github.com/wolfeidau/genjobs/internal/logger"
	"github.com/wolfeidau/genjobs/internal/server"
	"github.com/wolfeidau/genjobs/internal/storage"
	"github.com/wolfeidau/genjobs/internal/sweeper"
	"github.com/wolfeidau/genjobs/internal/telemetry"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type ServeCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"GENJOBS_LISTEN"`
	Cert            string        `help:"path to TLS cert file, serves cleartext HTTP/2 when empty" default:"" env:"GENJOBS_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"GENJOBS_TLS_KEY"`
	PublicURL       string        `help:"externally visible base URL of this server" default:"http://localhost:8080" env:"GENJOBS_PUBLIC_URL"`
	ShutdownTimeout time.Duration `help:"time allowed for in-flight generations on shutdown" default:"30s" env:"GENJOBS_SHUTDOWN_TIMEOUT"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000,http://127.0.0.1:3000" env:"GENJOBS_CORS_ORIGINS"`

	// Authentication
	NoAuth      bool   `help:"disable authentication for API endpoints (development only)" default:"false" env:"GENJOBS_NO_AUTH"`
	JWTSecret   string `help:"HMAC secret for API bearer tokens" env:"GENJOBS_JWT_SECRET"`
	JWTAudience string `help:"expected audience of API bearer tokens" default:"genjobs" env:"GENJOBS_JWT_AUDIENCE"`

	Tracing    bool          `help:"enable tracing" default:"false" env:"GENJOBS_TRACING"`
	ListMaxAge time.Duration `help:"client cache lifetime of generation job lists" default:"5s" env:"GENJOBS_LIST_MAX_AGE"`

	// Gateway configuration
	HeartbeatInterval time.Duration `help:"how often a generating job is touched while the backend works" default:"1m" env:"GENJOBS_HEARTBEAT_INTERVAL"`
	AllowedRoutes     []string      `help:"backend paths submissions may target, any when empty" env:"GENJOBS_ALLOWED_ROUTES"`

	// Sweeper configuration
	NoSweep       bool          `help:"disable the stale job sweeper" default:"false" env:"GENJOBS_NO_SWEEP"`
	SweepInterval time.Duration `help:"interval between stale job sweeps" default:"1m" env:"GENJOBS_SWEEP_INTERVAL"`
	StaleAfter    time.Duration `help:"fail generating jobs without a heartbeat for this long" default:"5m" env:"GENJOBS_STALE_AFTER"`

	// Result images
	ObjectsDir string `help:"directory for generated images extracted from results, disabled when empty" default:"" env:"GENJOBS_OBJECTS_DIR"`

	Store   StoreFlags   `embed:""`
	Backend BackendFlags `embed:"" prefix:"backend-"`
}

type BackendFlags struct {
	URL          string        `help:"generation backend base URL" default:"http://localhost:8000" env:"GENJOBS_BACKEND_URL"`
	Timeout      time.Duration `help:"timeout of a single backend call" default:"10m" env:"GENJOBS_BACKEND_TIMEOUT"`
	ClientID     string        `help:"OAuth2 client id for the backend" env:"GENJOBS_BACKEND_CLIENT_ID"`
	ClientSecret string        `help:"OAuth2 client secret for the backend" env:"GENJOBS_BACKEND_CLIENT_SECRET"`
	TokenURL     string        `help:"OAuth2 token URL for the backend" env:"GENJOBS_BACKEND_TOKEN_URL"`
	Scopes       []string      `help:"OAuth2 scopes for the backend" env:"GENJOBS_BACKEND_SCOPES"`
}

func (c *ServeCmd) Validate() error {
	if !c.NoAuth && c.JWTSecret == "" {
		return errors.New("JWT secret is required (--jwt-secret or GENJOBS_JWT_SECRET), or pass --no-auth for development")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be set together (--cert and --key)")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Dev)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("dev", globals.Dev).Msg("Starting server")

	// Setup telemetry if enabled
	interceptors := []connect.Interceptor{logger.NewConnectRequests(log)}
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{ServiceName: "genjobs-server", Version: globals.Version})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	jobStore, closeStore, err := c.Store.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	backendClient, err := backend.NewClient(ctx, backend.Config{
		BaseURL:      c.Backend.URL,
		Timeout:      c.Backend.Timeout,
		ClientID:     c.Backend.ClientID,
		ClientSecret: c.Backend.ClientSecret,
		TokenURL:     c.Backend.TokenURL,
		Scopes:       c.Backend.Scopes,
	})
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	serverCfg := server.Config{
		Store:      jobStore,
		ListMaxAge: c.ListMaxAge,
	}

	var gatewayOpts []gateway.Option
	if c.ObjectsDir != "" {
		objects, err := storage.NewFileStore(c.ObjectsDir, strings.TrimRight(c.PublicURL, "/")+"/objects")
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		gatewayOpts = append(gatewayOpts, gateway.WithUploader(storage.NewResultUploader(objects)))
		serverCfg.Objects = objects.Handler()
		log.Info().Str("dir", c.ObjectsDir).Msg("Extracting result images to object store")
	}

	gw, err := gateway.New(jobStore, backendClient, gateway.Config{
		HeartbeatInterval: c.HeartbeatInterval,
		AllowedRoutes:     c.AllowedRoutes,
	}, gatewayOpts...)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	serverCfg.Gateway = gw

	if !c.NoAuth {
		verifier, err := auth.NewJWTVerifier([]byte(c.JWTSecret), c.JWTAudience)
		if err != nil {
			return fmt.Errorf("failed to create JWT verifier: %w", err)
		}
		serverCfg.Auth = verifier.Middleware()
	} else {
		log.Warn().Msg("Authentication is disabled (--no-auth). This should only be used in development!")
	}

	if !c.NoSweep {
		sw, err := sweeper.New(jobStore, sweeper.Config{
			Interval:          c.SweepInterval,
			StaleAfter:        c.StaleAfter,
			HeartbeatInterval: c.HeartbeatInterval,
		})
		if err != nil {
			return err
		}
		sw.Start(ctx)
		defer sw.Stop()
	}

	// Cross-origin protection for unsafe methods, trusted CORS origins may
	// still submit from the browser.
	protection := csrf.New()
	for _, origin := range c.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return fmt.Errorf("invalid CORS origin %q: %w", origin, err)
		}
	}

	handler := withCORS(c.CORSOrigins, protection.Handler(server.NewServer(serverCfg).Handler(log, interceptors...)))

	// request contexts end on shutdown so open change streams return,
	// submissions run detached and finish their writes regardless
	requestCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	tls := c.Cert != ""
	if !tls {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	srv := configureHTTPServer(c.Listen, handler)
	srv.BaseContext = func(net.Listener) context.Context { return requestCtx }

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", tls).Bool("auth", !c.NoAuth).Msg("Starting HTTP server")
		if tls {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	cancelRequests()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
	if err := gw.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Gave up waiting for in-flight generations")
	}

	log.Info().Msg("Server stopped")
	return nil
}
