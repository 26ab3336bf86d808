package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"github.com/ecovate/turnrest/internal/audit"
	"github.com/ecovate/turnrest/internal/config"
	"github.com/ecovate/turnrest/internal/jwt"
	"github.com/ecovate/turnrest/internal/observe"
	"github.com/ecovate/turnrest/internal/server"
	"github.com/ecovate/turnrest/internal/turn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(cfg config.Config) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	authorizer, err := jwt.Middleware(cfg.Authorization)
	if err != nil {
		return nil, fmt.Errorf("authorizer configuration failed: %w", err)
	}

	// Credential requests carry no body, so the limit is small. Given the
	// current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)
	cors := crossOrigin(cfg.Server.AllowedOrigin)

	authorizedRouteMiddleware := alice.New(requestLimiter, cors, auditor, authorizer)
	browserRouteMiddleware := alice.New(requestLimiter, cors)
	standardRouteMiddleware := alice.New(requestLimiter)

	issuer := turn.NewIssuer(cfg.Turn)

	turnHandler := authorizedRouteMiddleware.Then(handleGetTurn(issuer))
	mux.Handle("GET /turn", turnHandler)
	mux.Handle("POST /turn", turnHandler)
	mux.Handle("OPTIONS /turn", browserRouteMiddleware.Then(handlePreflight()))

	mux.Handle("GET /ping", standardRouteMiddleware.Then(handlePing()))
	mux.Handle("GET /monitor/ping", standardRouteMiddleware.Then(handlePing()))

	mux.Handle("/", browserRouteMiddleware.Then(handleNotFound()))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	// outgoing requests are only made to fetch the issuer's JWKS
	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server.OutgoingHTTPMaxIdleConns, cfg.Server.OutgoingHTTPMaxConnsPerHost),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(cfg)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	srv := server.New(cfg.Server, handler)
	srv.Hooks.AddContext("telemetry", shutdownTelemetry)

	log.Info().
		Strs("turnURIs", cfg.Turn.TURNURIs).
		Strs("stunURIs", cfg.Turn.STUNURIs).
		Int64("ttlSecs", cfg.Turn.TTLSeconds).
		Bool("forcedUser", cfg.Turn.ForcedUser != "").
		Bool("jwtIgnored", cfg.Authorization.Disabled).
		Msg("credential issuing configured")

	err = srv.ListenAndServe(ctx)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	levelName := zerolog.LevelFieldMarshalFunc
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		if l == audit.Level {
			return audit.LevelName
		}
		return levelName(l)
	}

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(maxIdleConns, maxConnsPerHost int) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = maxIdleConns
	transport.MaxConnsPerHost = maxConnsPerHost

	return transport
}
