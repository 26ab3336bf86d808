package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	Observe       ObserveConfig
	Server        ServerConfig
	Turn          TurnConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	// AllowedOrigin is returned in the Access-Control-Allow-Origin header of
	// credential responses.
	AllowedOrigin string `env:"SERVER_ALLOWED_ORIGIN, default=*"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

type AuthorizationConfig struct {
	// Disabled turns off JWT verification entirely. Only suitable for local
	// development.
	Disabled bool `env:"JWT_IGNORE, default=false"`

	Audience            string `env:"JWT_AUDIENCE, default=turn-rest"`
	IssuerURL           string `env:"JWT_ISSUER_URL"`
	ConfigurationStatic string `env:"JWT_JWKS_STATIC"`

	// RequiredScopes lists scopes of which the token must carry at least one.
	RequiredScopes []string `env:"JWT_REQUIRED_SCOPES"`

	// UserClaim names the claim whose value is used as the TURN user name.
	UserClaim string `env:"JWT_USER_CLAIM"`

	ValidationCacheSeconds int `env:"JWT_VALIDATION_CACHE_SECS, default=300"`
}

// TurnConfig controls the credentials issued by the server.
type TurnConfig struct {
	// SecretKey is the shared secret configured on the TURN server
	// (coturn's static-auth-secret).
	SecretKey string `env:"TURN_SECRET_KEY"`

	TURNURIs []string `env:"TURN_URIS, required"`
	STUNURIs []string `env:"STUN_URIS"`

	TTLSeconds int64 `env:"TURN_TTL_SECS, default=43200"`

	ForcedUser     string `env:"TURN_FORCED_USER"`
	ForcedPassword string `env:"TURN_FORCED_PASSWORD"`
}

// ClientConfig is used by the turncreds command.
type ClientConfig struct {
	URL            string `env:"TURN_REST_URL"`
	Token          string `env:"TURN_REST_TOKEN"`
	TimeoutSeconds int    `env:"TURN_REST_TIMEOUT_SECS, default=30"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	Observe ObserveConfig
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=turnrest"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Authorization.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid authorization configuration: %w", err)
	}

	err = cfg.Turn.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid TURN configuration: %w", err)
	}

	return cfg, nil
}

func LoadClient(ctx context.Context) (ClientConfig, error) {
	return loadClient(ctx, nil)
}

func loadClient(ctx context.Context, lookup envconfig.Lookuper) (ClientConfig, error) {
	var cfg ClientConfig
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup,
	})

	return cfg, err
}

// Validate checks that token verification can be configured.
func (c *AuthorizationConfig) Validate() error {
	if c.Disabled {
		return nil
	}

	if c.IssuerURL == "" {
		return errors.New("JWT_ISSUER_URL required unless JWT_IGNORE is set")
	}

	if c.Audience == "" {
		return errors.New("JWT_AUDIENCE must not be empty")
	}

	return nil
}

// Validate checks that credentials can be issued with this configuration.
func (c *TurnConfig) Validate() error {
	if c.ForcedPassword != "" && c.ForcedUser == "" {
		return errors.New("TURN_FORCED_USER required when TURN_FORCED_PASSWORD is set")
	}

	// a secret is only needed when passwords are derived
	if c.ForcedPassword == "" && c.SecretKey == "" {
		return errors.New("TURN_SECRET_KEY required unless TURN_FORCED_PASSWORD is set")
	}

	if c.TTLSeconds <= 0 {
		return fmt.Errorf("TURN_TTL_SECS must be positive, got %d", c.TTLSeconds)
	}

	return nil
}
