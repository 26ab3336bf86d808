package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// expiryMargin is subtracted from the server-reported TTL when computing the
// local expiry of a cached credential.
const expiryMargin = 300 * time.Millisecond

// Fetcher retrieves a JSON credential document from url. When token is not
// empty it is supplied as a bearer token. Implementations fail on transport
// errors, non-success statuses and undecodable bodies.
type Fetcher interface {
	Fetch(ctx context.Context, url string, token string) (json.RawMessage, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string, token string) (json.RawMessage, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string, token string) (json.RawMessage, error) {
	return f(ctx, url, token)
}

// Cache holds TURN credentials per endpoint URL until they near expiry.
// Callers for a URL with unexpired credentials share its outstanding fetch,
// if any. Until the first fetch succeeds there is no expiry, and every caller
// starts a fetch of its own. Entries are never removed: the cache is sized by
// the number of distinct endpoints used.
//
// Use New to create an instance.
type Cache struct {
	fetcher Fetcher
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is the per-URL state. All fields are guarded by mu.
type entry struct {
	mu sync.Mutex

	pending   *Result
	settled   bool
	healthy   bool
	expiresAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a credential cache that retrieves credentials with fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	initMetrics()

	c := &Cache{
		fetcher: fetcher,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the credentials for url. A new fetch is started when none has
// been issued for url, when forceRefresh is set, when the previous fetch
// failed, or when the cached credentials have expired or were never obtained.
// Otherwise the existing (possibly still in-flight) Result is returned.
//
// The fetch is detached from the cancellation of ctx: the Result may be shared
// by other callers. An invalid url fails immediately with *ValidationError.
func (c *Cache) Get(ctx context.Context, url string, token string, forceRefresh bool) (*Result, error) {
	if !validURL(url) {
		return nil, &ValidationError{URL: url}
	}

	e := c.entry(url)

	e.mu.Lock()
	defer e.mu.Unlock()

	reason := e.refetchReason(c.now(), forceRefresh)
	if reason != reasonNone {
		log.Ctx(ctx).Debug().
			Str("url", url).
			Str("reason", string(reason)).
			Msg("credentials: fetching")

		res := newResult()
		e.pending = res
		go c.fetch(context.WithoutCancel(ctx), e, url, token, res)
	}

	recordRequest(ctx, reason)

	// The outcome of the returned operation is regarded as unknown until the
	// next decision: only completion sets these again.
	e.settled = false
	e.healthy = false

	return e.pending, nil
}

// Len returns the number of endpoints the cache holds state for.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache) entry(url string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if !ok {
		e = &entry{}
		c.entries[url] = e
	}

	return e
}

func (c *Cache) fetch(ctx context.Context, e *entry, url string, token string, res *Result) {
	start := time.Now()

	payload, err := c.retrieve(ctx, url, token)

	recordFetch(ctx, err, time.Since(start))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settled = true

	if err != nil {
		log.Ctx(ctx).Info().Err(err).Str("url", url).Msg("credentials: fetch failed")

		e.healthy = false
		res.complete(Payload{}, &FetchError{URL: url, Err: err})
		return
	}

	e.expiresAt = c.now().Add(payload.TTL - expiryMargin)
	e.healthy = true

	log.Ctx(ctx).Debug().
		Str("url", url).
		Time("expiry", e.expiresAt).
		Msg("credentials: fetched")

	res.complete(payload, nil)
}

// retrieve calls the fetcher, converting a panic into an error so that the
// Result is always completed.
func (c *Cache) retrieve(ctx context.Context, url string, token string) (payload Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetcher panicked: %v", r)
		}
	}()

	raw, err := c.fetcher.Fetch(ctx, url, token)
	if err != nil {
		return Payload{}, err
	}

	return decodePayload(raw)
}

type refetchReason string

const (
	reasonNone    refetchReason = ""
	reasonFirst   refetchReason = "first"
	reasonForced  refetchReason = "forced"
	reasonFailed  refetchReason = "failed"
	reasonExpired refetchReason = "expired"
)

// refetchReason decides whether a new fetch is needed. An unset expiry counts
// as expired, so until a fetch has completed successfully every lookup starts
// its own fetch.
func (e *entry) refetchReason(now time.Time, forceRefresh bool) refetchReason {
	switch {
	case e.pending == nil:
		return reasonFirst
	case forceRefresh:
		return reasonForced
	case e.settled && !e.healthy:
		return reasonFailed
	case now.After(e.expiresAt):
		return reasonExpired
	}

	return reasonNone
}

func validURL(url string) bool {
	return len(url) >= 4 && strings.EqualFold(url[:4], "http")
}
