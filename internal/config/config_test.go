package config

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalEnv(overrides map[string]string) envconfig.Lookuper {
	env := map[string]string{
		"JWT_ISSUER_URL":  "https://issuer.example",
		"TURN_SECRET_KEY": "north",
		"TURN_URIS":       "turn:turn.example:3478?transport=udp,turn:turn.example:3478?transport=tcp",
	}
	for k, v := range overrides {
		if v == "" {
			delete(env, k)
			continue
		}
		env[k] = v
	}
	return envconfig.MapLookuper(env)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, ServerConfig{
		Port:                        8080,
		ShutdownTimeoutSeconds:      25,
		AllowedOrigin:               "*",
		OutgoingHTTPMaxIdleConns:    100,
		OutgoingHTTPMaxConnsPerHost: 20,
	}, cfg.Server)

	assert.Equal(t, "turn-rest", cfg.Authorization.Audience)
	assert.False(t, cfg.Authorization.Disabled)
	assert.Equal(t, 300, cfg.Authorization.ValidationCacheSeconds)

	assert.Equal(t, int64(43200), cfg.Turn.TTLSeconds)
	assert.Equal(t, []string{
		"turn:turn.example:3478?transport=udp",
		"turn:turn.example:3478?transport=tcp",
	}, cfg.Turn.TURNURIs)
	assert.Empty(t, cfg.Turn.STUNURIs)

	assert.Equal(t, "turnrest", cfg.Observe.ServiceName)
	assert.Equal(t, "grpc", cfg.Observe.Type)
}

func TestLoad_ScopesAndUserClaim(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(map[string]string{
		"JWT_REQUIRED_SCOPES": "turn:read,turn:admin",
		"JWT_USER_CLAIM":      "email",
		"STUN_URIS":           "stun:stun.example:3478",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"turn:read", "turn:admin"}, cfg.Authorization.RequiredScopes)
	assert.Equal(t, "email", cfg.Authorization.UserClaim)
	assert.Equal(t, []string{"stun:stun.example:3478"}, cfg.Turn.STUNURIs)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]string
		errText   string
	}{
		{
			name:      "TURN URIs required",
			overrides: map[string]string{"TURN_URIS": ""},
			errText:   "TURN_URIS",
		},
		{
			name:      "issuer required",
			overrides: map[string]string{"JWT_ISSUER_URL": ""},
			errText:   "JWT_ISSUER_URL required",
		},
		{
			name:      "secret required",
			overrides: map[string]string{"TURN_SECRET_KEY": ""},
			errText:   "TURN_SECRET_KEY required",
		},
		{
			name:      "forced password without user",
			overrides: map[string]string{"TURN_FORCED_PASSWORD": "hunter2"},
			errText:   "TURN_FORCED_USER required",
		},
		{
			name:      "non-positive TTL",
			overrides: map[string]string{"TURN_TTL_SECS": "0"},
			errText:   "TURN_TTL_SECS must be positive",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(context.Background(), minimalEnv(tc.overrides))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errText)
		})
	}
}

func TestLoad_AuthorizationDisabled(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(map[string]string{
		"JWT_IGNORE":     "true",
		"JWT_ISSUER_URL": "",
	}))
	require.NoError(t, err)
	assert.True(t, cfg.Authorization.Disabled)
}

func TestLoad_ForcedCredentials(t *testing.T) {
	cfg, err := load(context.Background(), minimalEnv(map[string]string{
		"TURN_SECRET_KEY":      "",
		"TURN_FORCED_USER":     "fixed",
		"TURN_FORCED_PASSWORD": "hunter2",
	}))
	require.NoError(t, err)
	assert.Equal(t, "fixed", cfg.Turn.ForcedUser)
	assert.Equal(t, "hunter2", cfg.Turn.ForcedPassword)
}

func TestLoadClient(t *testing.T) {
	cfg, err := loadClient(context.Background(), envconfig.MapLookuper(map[string]string{
		"TURN_REST_URL":   "https://turn.example/turn",
		"TURN_REST_TOKEN": "tok",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://turn.example/turn", cfg.URL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 30, cfg.TimeoutSeconds)
	assert.False(t, cfg.Observe.Enabled)
}
