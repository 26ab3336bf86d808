package observe

import (
	"context"
	"net/http"
	"testing"

	"github.com/ecovate/turnrest/internal/config"
	"github.com/ecovate/turnrest/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func TestConfigure_Disabled(t *testing.T) {
	testhelpers.SetupLogger(t)

	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_UnsupportedType(t *testing.T) {
	testhelpers.SetupLogger(t)

	_, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:     true,
		Type:        "carrier-pigeon",
		ServiceName: "turnrest-test",
	})

	assert.ErrorContains(t, err, `unsupported telemetry type "carrier-pigeon"`)
}

func TestConfigure_Stdout(t *testing.T) {
	testhelpers.SetupLogger(t)

	shutdown, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "turnrest-test",
		SDKLogLevel:               "warn",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	})
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
}

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport

	cases := []struct {
		name      string
		cfg       config.ObserveConfig
		wantTrace bool
	}{
		{name: "telemetry disabled", cfg: config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true}},
		{name: "transport disabled", cfg: config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false}},
		{name: "enabled", cfg: config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true}, wantTrace: true},
		{name: "enabled with connection trace", cfg: config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true}, wantTrace: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport := HTTPTransport(base, tc.cfg)

			if tc.wantTrace {
				assert.IsType(t, &otelhttp.Transport{}, transport)
			} else {
				assert.Same(t, base, transport)
			}
		})
	}
}
