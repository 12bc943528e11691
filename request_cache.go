package ghcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	headerAccept      = "Accept"
	mediaTypeGitHubV3 = "application/vnd.github.v3+json"

	tracerName = "github.com/dgduncan/go-gh-cache"
)

// ErrInvalidJSON is returned when a successful response body is not JSON.
var ErrInvalidJSON = errors.New("response body is not valid json")

// RequestOptions carries the caller's part of a request. Accept is always
// replaced with the GitHub v3 JSON media type.
type RequestOptions struct {
	Header http.Header
}

// RequestCache memoizes GET calls to the GitHub API by URL and refuses new
// calls once the advertised quota drops to the configured reserve.
//
// One RequestCache belongs to one credential/repository context. Call Clear
// when that context changes, since keys are URLs and would otherwise leak
// responses across tokens.
type RequestCache struct {
	cache  Cache
	gov    *Governor
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
	group  singleflight.Group

	c Config
}

// New creates a RequestCache storing responses in cache.
//
// If 'now' is nil, time.Now will be used as the default time provider.
// If 'logger' is nil, a no-op logger writing to io.Discard will be used.
// If 'opts' is nil, DefaultConfig is used; a zero DefaultTTL falls back to
// five minutes.
func New(
	cache Cache,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
) *RequestCache {
	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := Config{}
	if opts == nil {
		c = DefaultConfig()
	} else {
		c = *opts
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}

	base := c.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	gov := NewGovernor(c.RateLimitBuffer, nowFunc)
	client := &http.Client{
		Transport:     Govern(gov, logger, c.Metrics)(base.Transport),
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       base.Timeout,
	}

	return &RequestCache{
		cache:  cache,
		gov:    gov,
		client: client,
		logger: logger,
		now:    nowFunc,
		tracer: otel.Tracer(tracerName),
		c:      c,
	}
}

// Get returns the stored payload for endpoint and params if it is still
// fresh. It never performs network I/O; storage errors count as a miss.
func (rc *RequestCache) Get(ctx context.Context, endpoint string, params any) (json.RawMessage, bool) {
	return rc.lookup(ctx, Key(endpoint, params))
}

// Set stores data, JSON encoded, under endpoint and params, replacing any
// previous entry. A ttl of zero uses the configured default.
func (rc *RequestCache) Set(ctx context.Context, endpoint string, data any, params any, ttl time.Duration) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache item: %w", err)
	}
	if ttl <= 0 {
		ttl = rc.c.DefaultTTL
	}
	return rc.store(ctx, Key(endpoint, params), b, ttl)
}

// FetchWithCache is the primary entry point. A fresh cached response for url
// is returned without network access; otherwise the request is admitted by
// the governor, sent, and a successful JSON body is cached for ttl (or the
// matching TTLOverride, or the default).
//
// Errors are *RateLimitError, *HTTPError, ErrInvalidJSON, or the transport
// error exactly as net/http returned it.
func (rc *RequestCache) FetchWithCache(ctx context.Context, url string, opts *RequestOptions, ttl time.Duration) (json.RawMessage, error) {
	ctx, span := rc.tracer.Start(ctx, "ghcache.FetchWithCache",
		trace.WithAttributes(attribute.String("url.full", url)))
	defer span.End()

	key := Key(url, nil)

	if data, ok := rc.lookup(ctx, key); ok {
		rc.logger.DebugContext(ctx, "cache item found", "url", url)
		rc.c.Metrics.hit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return data, nil
	}
	rc.c.Metrics.miss()
	span.SetAttributes(attribute.Bool("cache.hit", false))

	var (
		data json.RawMessage
		err  error
	)
	if rc.c.CoalesceInFlight {
		// The shared call outlives any single caller; each caller still
		// stops waiting when its own ctx ends.
		ch := rc.group.DoChan(key, func() (any, error) {
			return rc.fetch(context.WithoutCancel(ctx), key, url, opts, ttl)
		})
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case res := <-ch:
			err = res.Err
			if err == nil {
				data = res.Val.(json.RawMessage)
			}
		}
	} else {
		data, err = rc.fetch(ctx, key, url, opts, ttl)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return data, nil
}

func (rc *RequestCache) fetch(ctx context.Context, key, url string, opts *RequestOptions, ttl time.Duration) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if opts != nil {
		for k, v := range opts.Header {
			req.Header[k] = slices.Clone(v)
		}
	}
	req.Header.Set(headerAccept, mediaTypeGitHubV3)

	rc.logger.DebugContext(ctx, "cache item not found, fetching", "url", url)

	resp, err := rc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rc.statusError(resp, false)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: %w", url, ErrInvalidJSON)
	}

	ttl = rc.c.ttlFor(req.URL.Host+req.URL.Path, ttl)
	rc.logger.DebugContext(ctx, "caching response", "url", url, "expiration", rc.now().Add(ttl))
	if cacheErr := rc.store(ctx, key, body, ttl); cacheErr != nil {
		rc.logger.WarnContext(ctx, "error caching response", "error", cacheErr)
	}

	return body, nil
}

// Do sends req through the governor without caching. It is meant for
// mutations, which must still respect and update the quota. A refusal is
// returned as a bare *RateLimitError rather than wrapped in *url.Error.
func (rc *RequestCache) Do(req *http.Request) (*http.Response, error) {
	resp, err := rc.client.Do(req)
	if err != nil {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			return nil, rle
		}
		return nil, err
	}
	return resp, nil
}

// CheckResponse returns nil for a 2xx response and otherwise the error
// FetchWithCache would have produced, with up to 4KB of the body attached.
func (rc *RequestCache) CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	return rc.statusError(resp, true)
}

func (rc *RequestCache) statusError(resp *http.Response, withBody bool) error {
	rc.c.Metrics.upstreamError(resp.StatusCode)

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get(headerRateLimitRemaining) == "0" {
		rc.c.Metrics.reject("upstream")
		return &RateLimitError{Upstream: true, Info: rc.gov.Info()}
	}

	he := &HTTPError{StatusCode: resp.StatusCode, StatusText: statusText(resp)}
	if withBody {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		he.Body = strings.TrimSpace(string(b))
	}
	return he
}

// Clear empties the store and forgets the quota snapshot, so the next request
// is admitted.
func (rc *RequestCache) Clear(ctx context.Context) error {
	rc.gov.Reset()
	return rc.cache.Clear(ctx)
}

// Size returns the number of stored entries, fresh or stale.
func (rc *RequestCache) Size(ctx context.Context) (int, error) {
	return rc.cache.Len(ctx)
}

// RateLimitInfo returns the current quota snapshot, or nil when unknown.
func (rc *RequestCache) RateLimitInfo() *RateLimitInfo {
	return rc.gov.Info()
}

// CanMakeRequest reports whether the governor would admit a request now.
func (rc *RequestCache) CanMakeRequest() bool {
	return rc.gov.Allow()
}

// HTTPClient returns the governed client used for network calls.
func (rc *RequestCache) HTTPClient() *http.Client {
	return rc.client
}

func (rc *RequestCache) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	item, err := rc.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			rc.logger.WarnContext(ctx, "error reading cache", "key", key, "error", err)
		}
		return nil, false
	}

	if !item.Fresh(rc.now()) {
		rc.logger.DebugContext(ctx, "cache item stale", "key", key, "stored_at", item.StoredAt.Format(time.RFC3339))
		return nil, false
	}

	return item.Data, true
}

func (rc *RequestCache) store(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return rc.cache.Set(ctx, key, &CacheItem{
		Data:     data,
		StoredAt: rc.now(),
		TTL:      ttl,
	})
}

func statusText(resp *http.Response) string {
	if text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); text != "" && text != resp.Status {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// Fetch is FetchWithCache decoding the payload into T.
func Fetch[T any](ctx context.Context, rc *RequestCache, url string, opts *RequestOptions, ttl time.Duration) (T, error) {
	var v T

	data, err := rc.FetchWithCache(ctx, url, opts, ttl)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", url, err)
	}
	return v, nil
}
