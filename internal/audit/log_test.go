package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecovate/turnrest/internal/audit"
	"github.com/ecovate/turnrest/internal/testhelpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {

	t.Run("captures request info and configures context", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		testAgent := "kettle/1.0"
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			entry := audit.Log(ctx)
			assert.Equal(t, testAgent, entry.UserAgent)

			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()
		req.Header.Set("User-Agent", testAgent)

		middleware.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
	})

	t.Run("captures status code", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		var capturedContext context.Context
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedContext = r.Context()
			w.WriteHeader(http.StatusTeapot)
		})

		req, w := requestSetup()

		middleware := audit.Middleware()(handler)

		middleware.ServeHTTP(w, req)

		entry := audit.Log(capturedContext)

		assert.Equal(t, http.StatusTeapot, w.Result().StatusCode)
		assert.Equal(t, http.StatusTeapot, entry.Status)
	})

	t.Run("log written", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level {
					auditWritten = true
				}
			}),
		)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()

		middleware.ServeHTTP(w, req.WithContext(ctx))

		assert.True(t, auditWritten, "audit log entry should be written")
	})

	t.Run("log written on panic", func(t *testing.T) {
		testhelpers.SetupLogger(t)

		auditWritten := false

		ctx := withLogHook(
			context.Background(),
			zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
				if level == audit.Level {
					auditWritten = true
				}
			}),
		)

		var entry *audit.Entry

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, entry = audit.Context(r.Context())
			entry.Error = "failure pre-panic"
			panic("not a teapot")
		})

		middleware := audit.Middleware()(handler)

		req, w := requestSetup()

		assert.PanicsWithValue(t, "not a teapot", func() {
			middleware.ServeHTTP(w, req.WithContext(ctx))
			// this will panic as it's expected that the middleware will re-panic
		})

		assert.Equal(t, "failure pre-panic; panic: not a teapot", entry.Error)
		assert.True(t, auditWritten, "audit log entry should be written")
	})
}

func TestAuditing(t *testing.T) {
	testhelpers.SetupLogger(t)

	ctx := context.Background()
	r, _ := requestSetup()

	_, e := audit.Context(ctx)
	e.Begin(r)
	e.End(ctx)()

	assert.NotEmpty(t, e.SourceIP)
	e.SourceIP = "" // clear IP as it will change between tests

	assert.Equal(t, &audit.Entry{Method: "GET", Path: "/foo", UserAgent: "kettle/1.0", Status: 200}, e)
}

func requestSetup() (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	req.Header.Set("User-Agent", "kettle/1.0")

	w := httptest.NewRecorder()

	return req, w
}

func withLogHook(ctx context.Context, hook zerolog.HookFunc) context.Context {
	testLog := log.Logger.With().Logger().Hook(hook)
	return testLog.WithContext(ctx)
}

func serialize(t *testing.T, entry audit.Entry) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Log().EmbedObject(&entry).Send()

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	return result
}

func TestMiddleware_StatusOnPanicWithoutResponse(t *testing.T) {
	testhelpers.SetupLogger(t)

	var entry *audit.Entry
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry = audit.Log(r.Context())
		panic("boom")
	})

	req, w := requestSetup()

	assert.Panics(t, func() {
		audit.Middleware()(handler).ServeHTTP(w, req)
	})
	assert.Equal(t, http.StatusInternalServerError, entry.Status)
	assert.Equal(t, "panic: boom", entry.Error)
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	testhelpers.SetupLogger(t)

	var entry *audit.Entry
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry = audit.Log(r.Context())
		_, _ = w.Write([]byte("pong"))
		w.WriteHeader(http.StatusTeapot) // superfluous, ignored
	})

	req, w := requestSetup()
	audit.Middleware()(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, entry.Status)
}

func TestLog_WithoutContextEntry(t *testing.T) {
	entry := audit.Log(context.Background())
	require.NotNil(t, entry)

	entry.Error = "detached"
	assert.Empty(t, audit.Log(context.Background()).Error, "entries are not shared without a context")
}

func TestNestedDictSerialization(t *testing.T) {
	testhelpers.SetupLogger(t)

	result := serialize(t, audit.Entry{
		Method:          "GET",
		Path:            "/turn",
		Status:          200,
		SourceIP:        "10.0.0.1",
		UserAgent:       "test/1.0",
		Authorized:      true,
		AuthSubject:     "alice",
		AuthScopes:      []string{"turn"},
		TurnUser:        "alice",
		TurnTTLSecs:     3600,
		TurnServerCount: 2,
	})

	t.Run("request fields nested", func(t *testing.T) {
		request, ok := result["request"].(map[string]any)
		require.True(t, ok, "expected 'request' dict in log output")
		assert.Equal(t, "GET", request["method"])
		assert.Equal(t, "/turn", request["path"])
		assert.Equal(t, float64(200), request["status"])
		assert.Equal(t, "10.0.0.1", request["sourceIP"])
		assert.Equal(t, "test/1.0", request["userAgent"])
	})

	t.Run("authorization fields nested", func(t *testing.T) {
		auth, ok := result["authorization"].(map[string]any)
		require.True(t, ok, "expected 'authorization' dict in log output")
		assert.Equal(t, true, auth["authorized"])
		assert.Equal(t, "alice", auth["subject"])
		assert.Equal(t, []any{"turn"}, auth["scopes"])
	})

	t.Run("credential fields nested", func(t *testing.T) {
		creds, ok := result["credentials"].(map[string]any)
		require.True(t, ok, "expected 'credentials' dict in log output")
		assert.Equal(t, "alice", creds["user"])
		assert.Equal(t, float64(3600), creds["ttl"])
		assert.Equal(t, float64(2), creds["servers"])
	})

	t.Run("error omitted when empty", func(t *testing.T) {
		assert.NotContains(t, result, "error")
	})

	t.Run("error present when set", func(t *testing.T) {
		errResult := serialize(t, audit.Entry{Error: "something broke"})
		assert.Equal(t, "something broke", errResult["error"])
	})
}

func TestOptionalDictElision(t *testing.T) {
	testhelpers.SetupLogger(t)

	t.Run("empty entry omits credentials", func(t *testing.T) {
		result := serialize(t, audit.Entry{})
		assert.Contains(t, result, "request", "request dict is always present")
		assert.Contains(t, result, "authorization", "authorization dict is always present (contains authorized bool)")
		assert.NotContains(t, result, "credentials")
		assert.NotContains(t, result, "error")
	})

	t.Run("credentials present when user set", func(t *testing.T) {
		result := serialize(t, audit.Entry{TurnUser: "bob"})
		creds, ok := result["credentials"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "bob", creds["user"])
		assert.NotContains(t, creds, "ttl")
	})

	t.Run("authorization present via audience", func(t *testing.T) {
		result := serialize(t, audit.Entry{AuthAudience: []string{"turn-rest"}})
		auth, ok := result["authorization"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, false, auth["authorized"])
		assert.Equal(t, []any{"turn-rest"}, auth["audience"])
	})
}

func TestExpiryFields(t *testing.T) {
	testhelpers.SetupLogger(t)

	future := time.Now().Add(time.Hour).Unix()

	t.Run("auth expiry present when set", func(t *testing.T) {
		auth := serialize(t, audit.Entry{AuthExpirySecs: future})["authorization"].(map[string]any)
		assert.Contains(t, auth, "expiry")
		assert.Contains(t, auth, "expiryRemaining")
	})

	t.Run("auth expiry absent when zero", func(t *testing.T) {
		auth := serialize(t, audit.Entry{})["authorization"].(map[string]any)
		assert.NotContains(t, auth, "expiry")
		assert.NotContains(t, auth, "expiryRemaining")
	})

	t.Run("credential expiry alone creates the dict", func(t *testing.T) {
		creds, ok := serialize(t, audit.Entry{TurnExpirySecs: future})["credentials"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, creds, "expiry")
		assert.Contains(t, creds, "expiryRemaining")
	})
}
