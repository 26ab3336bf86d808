// Package audit records a single structured log entry for every credential
// request, capturing the caller, the outcome of authorization and the
// credentials that were issued.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the log level used for audit entries. It sits above the standard
// levels so that audit records are written regardless of the configured
// minimum level.
const Level = zerolog.Level(20)

// LevelName is used when rendering the audit level in log output.
const LevelName = "audit"

// Entry is the audit record for a request. Handlers and middleware retrieve
// it from the request context and fill in the fields they are responsible
// for; the record is written when the request completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Authorized     bool
	AuthSubject    string
	AuthIssuer     string
	AuthAudience   []string
	AuthScopes     []string
	AuthExpirySecs int64

	TurnUser        string
	TurnTTLSecs     int64
	TurnExpirySecs  int64
	TurnServerCount int

	Error string
}

// MarshalZerologObject writes the entry as a set of nested dictionaries.
// Dictionaries with no populated fields are omitted.
func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	now := time.Now()

	request := NewOptionalEvent(zerolog.Dict())
	request.Str("method", e.Method).
		Str("path", e.Path).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent).
		Event().Int("status", e.Status)
	request.Set(event, "request")

	auth := NewOptionalEvent(zerolog.Dict())
	auth.Bool("authorized", e.Authorized).
		Str("subject", e.AuthSubject).
		Str("issuer", e.AuthIssuer).
		Strs("audience", e.AuthAudience).
		Strs("scopes", e.AuthScopes)
	expiry(auth, e.AuthExpirySecs, now)
	auth.Set(event, "authorization")

	creds := NewOptionalEvent(nil)
	creds.Str("user", e.TurnUser).
		Int("ttl", int(e.TurnTTLSecs)).
		Int("servers", e.TurnServerCount)
	expiry(creds, e.TurnExpirySecs, now)
	creds.Set(event, "credentials")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

func expiry(oe *OptionalEvent, secs int64, now time.Time) {
	if secs == 0 {
		return
	}

	exp := time.Unix(secs, 0)
	oe.Event().
		Time("expiry", exp).
		Dur("expiryRemaining", exp.Sub(now).Round(time.Second))
}

// Begin populates the request fields of the entry.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	e.SourceIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	}
}

// End returns a function that writes the entry to the context logger. It is
// intended for use with defer so that the entry is written even when the
// handler panics; a recovered panic is noted on the entry and then resumed.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
			if r != nil {
				e.Status = http.StatusInternalServerError
			}
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")

		if r != nil {
			panic(r)
		}
	}
}

type key struct{}

// Context returns a context carrying an audit entry, creating the entry if
// the context does not already have one.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the audit entry for the context. When the context has no entry,
// a detached entry is returned so callers never need to check for nil.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware attaches an audit entry to each request and writes it once the
// request has been handled.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response status on the audit entry.
type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.entry.Status == 0 {
		s.entry.Status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
