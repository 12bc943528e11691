package ghcache_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches/local"
)

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setQuota(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", "1700000000")
	w.Header().Set("X-RateLimit-Used", strconv.Itoa(5000-remaining))
}

// quotaServer answers every request with body and the given remaining quota.
func quotaServer(t *testing.T, remaining int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		setQuota(w, remaining)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, &calls
}

func newRequestCache(opts *ghcache.Config, now func() time.Time) *ghcache.RequestCache {
	return ghcache.New(local.NewBasicCache(), opts, now, discardLogger())
}

func TestCacheHitAvoidsNetwork(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 4000, `{"login":"alice"}`)
	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	first, err := rc.FetchWithCache(ctx, server.URL+"/user", nil, 0)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	second, err := rc.FetchWithCache(ctx, server.URL+"/user", nil, 0)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("expected 1 request to server, got %d", calls.Load())
	}
	if string(first) != string(second) {
		t.Errorf("expected identical payloads, got %s and %s", first, second)
	}
}

func TestSetThenFetchSkipsNetwork(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 4000, `{"login":"bob"}`)
	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	if err := rc.Set(ctx, server.URL+"/user", map[string]string{"login": "alice"}, nil, 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	data, err := rc.FetchWithCache(ctx, server.URL+"/user", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"login":"alice"}` {
		t.Errorf("expected cached payload, got %s", data)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests to server, got %d", calls.Load())
	}
}

func TestGetAfterSet(t *testing.T) {
	t.Parallel()

	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	if err := rc.Set(ctx, "https://api.example.com/user", map[string]string{"login": "alice"}, nil, 600000*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	data, ok := rc.Get(ctx, "https://api.example.com/user", nil)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"login":"alice"}` {
		t.Errorf("expected alice, got %s", data)
	}

	if _, ok := rc.Get(ctx, "https://api.example.com/user", map[string]int{"page": 2}); ok {
		t.Error("expected miss for different params")
	}
}

func TestStaleness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		elapsed  time.Duration
		expected bool
	}{
		{name: "within ttl", elapsed: 30 * time.Second, expected: true},
		{name: "exactly at ttl", elapsed: time.Minute, expected: true},
		{name: "one millisecond past ttl", elapsed: time.Minute + time.Millisecond, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			currentTime := testTime()
			rc := newRequestCache(nil, func() time.Time { return currentTime })
			ctx := context.Background()

			if err := rc.Set(ctx, "/repos/acme/widgets/labels", []string{"bug"}, nil, time.Minute); err != nil {
				t.Fatal(err)
			}

			currentTime = currentTime.Add(tt.elapsed)

			if _, ok := rc.Get(ctx, "/repos/acme/widgets/labels", nil); ok != tt.expected {
				t.Errorf("expected hit=%v, got %v", tt.expected, ok)
			}
		})
	}
}

func TestStaleEntryIsRefetched(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 4000, `[]`)
	currentTime := testTime()
	rc := newRequestCache(nil, func() time.Time { return currentTime })
	ctx := context.Background()

	if _, err := rc.FetchWithCache(ctx, server.URL, nil, time.Second); err != nil {
		t.Fatal(err)
	}
	currentTime = currentTime.Add(2 * time.Second)
	if _, err := rc.FetchWithCache(ctx, server.URL, nil, time.Second); err != nil {
		t.Fatal(err)
	}

	if calls.Load() != 2 {
		t.Errorf("expected 2 requests to server, got %d", calls.Load())
	}
}

func TestAdmissionGateBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		remaining     int
		expectAllowed bool
	}{
		{name: "remaining above buffer admits", remaining: 11, expectAllowed: true},
		{name: "remaining equal to buffer denies", remaining: 10, expectAllowed: false},
		{name: "remaining exhausted denies", remaining: 0, expectAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, calls := quotaServer(t, tt.remaining, `{}`)
			rc := newRequestCache(nil, nil)
			ctx := context.Background()

			// prime the governor with the server's quota
			if _, err := rc.FetchWithCache(ctx, server.URL+"/prime", nil, 0); err != nil {
				t.Fatal(err)
			}

			_, err := rc.FetchWithCache(ctx, server.URL+"/next", nil, 0)
			if tt.expectAllowed {
				if err != nil {
					t.Fatalf("expected request to be admitted, got %v", err)
				}
				if calls.Load() != 2 {
					t.Errorf("expected 2 requests to server, got %d", calls.Load())
				}
				return
			}

			if !errors.Is(err, ghcache.ErrRateLimitExceeded) {
				t.Fatalf("expected rate limit error, got %v", err)
			}
			var rle *ghcache.RateLimitError
			if !errors.As(err, &rle) || rle.Upstream {
				t.Errorf("expected pre-flight rate limit error, got %#v", err)
			}
			if calls.Load() != 1 {
				t.Errorf("expected no network call after denial, got %d requests", calls.Load())
			}
		})
	}
}

func TestCachedResponseServedWhenGateDenies(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 3, `{"cached":true}`)
	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	if _, err := rc.FetchWithCache(ctx, server.URL, nil, 0); err != nil {
		t.Fatal(err)
	}
	if rc.CanMakeRequest() {
		t.Fatal("expected governor to deny")
	}

	data, err := rc.FetchWithCache(ctx, server.URL, nil, 0)
	if err != nil {
		t.Fatalf("expected cache hit despite exhausted quota, got %v", err)
	}
	if string(data) != `{"cached":true}` || calls.Load() != 1 {
		t.Errorf("unexpected result %s after %d calls", data, calls.Load())
	}
}

func TestClearRestoresOptimism(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 2, `{}`)
	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	if _, err := rc.FetchWithCache(ctx, server.URL+"/a", nil, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := rc.FetchWithCache(ctx, server.URL+"/b", nil, 0); !errors.Is(err, ghcache.ErrRateLimitExceeded) {
		t.Fatalf("expected denial before clear, got %v", err)
	}

	if err := rc.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if info := rc.RateLimitInfo(); info != nil {
		t.Fatalf("expected unknown rate limit after clear, got %+v", info)
	}
	if n, _ := rc.Size(ctx); n != 0 {
		t.Errorf("expected empty cache after clear, got %d", n)
	}

	if _, err := rc.FetchWithCache(ctx, server.URL+"/b", nil, 0); err != nil {
		t.Fatalf("expected admission after clear, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests to server, got %d", calls.Load())
	}
}

func TestInitialRateLimitIsOptimistic(t *testing.T) {
	t.Parallel()

	rc := newRequestCache(nil, testTime)

	info := rc.RateLimitInfo()
	if info == nil {
		t.Fatal("expected initial snapshot")
	}
	if info.Remaining != 5000 || info.Used != 0 {
		t.Errorf("unexpected initial snapshot %+v", info)
	}
	if !info.Reset.Equal(testTime().Add(time.Hour)) {
		t.Errorf("expected reset one hour ahead, got %v", info.Reset)
	}
	if !rc.CanMakeRequest() {
		t.Error("expected initial admission")
	}
}

func TestQuotaUpdatedOnFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		setQuota(w, 42)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	rc := newRequestCache(nil, nil)

	_, err := rc.FetchWithCache(context.Background(), server.URL, nil, 0)

	var he *ghcache.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusInternalServerError || he.StatusText != "Internal Server Error" {
		t.Errorf("unexpected error %+v", he)
	}
	if he.Error() != "HTTP 500: Internal Server Error" {
		t.Errorf("unexpected message %q", he.Error())
	}

	info := rc.RateLimitInfo()
	if info == nil || info.Remaining != 42 || info.Used != 4958 {
		t.Errorf("expected quota from failed response, got %+v", info)
	}
	if !info.Reset.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("expected reset from header, got %v", info.Reset)
	}
	if n, _ := rc.Size(context.Background()); n != 0 {
		t.Errorf("failed responses must not be cached, size %d", n)
	}
}

func TestForbiddenClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		remaining     string
		expectUpstream bool
	}{
		{name: "403 with zero remaining is a rate limit", remaining: "0", expectUpstream: true},
		{name: "403 with quota left is a plain http error", remaining: "5", expectUpstream: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", tt.remaining)
				w.WriteHeader(http.StatusForbidden)
			}))
			defer server.Close()

			rc := newRequestCache(nil, nil)
			_, err := rc.FetchWithCache(context.Background(), server.URL, nil, 0)

			if tt.expectUpstream {
				var rle *ghcache.RateLimitError
				if !errors.As(err, &rle) || !rle.Upstream {
					t.Fatalf("expected upstream rate limit error, got %v", err)
				}
				if !strings.Contains(err.Error(), "rate limit") {
					t.Errorf("expected message to mention rate limit, got %q", err.Error())
				}
				return
			}

			var he *ghcache.HTTPError
			if !errors.As(err, &he) || he.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 403 HTTPError, got %v", err)
			}
			if errors.Is(err, ghcache.ErrRateLimitExceeded) {
				t.Error("plain 403 must not match ErrRateLimitExceeded")
			}
		})
	}
}

func TestMissingQuotaHeadersCountAsZero(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	if _, err := rc.FetchWithCache(ctx, server.URL+"/a", nil, 0); err != nil {
		t.Fatalf("in-flight request must not be denied retroactively: %v", err)
	}
	if info := rc.RateLimitInfo(); info == nil || info.Remaining != 0 || info.Used != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", info)
	}
	if _, err := rc.FetchWithCache(ctx, server.URL+"/b", nil, 0); !errors.Is(err, ghcache.ErrRateLimitExceeded) {
		t.Errorf("expected next request denied, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request to server, got %d", calls.Load())
	}
}

func TestKeyDeterminism(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 4000, `[]`)
	rc := newRequestCache(nil, nil)
	ctx := context.Background()

	base := server.URL + "/repos/acme/widgets/pulls?state=open"
	for _, u := range []string{base, base, base + "&per_page=100"} {
		if _, err := rc.FetchWithCache(ctx, u, nil, 0); err != nil {
			t.Fatal(err)
		}
	}

	if calls.Load() != 2 {
		t.Errorf("expected 2 requests to server, got %d", calls.Load())
	}
	if n, _ := rc.Size(ctx); n != 2 {
		t.Errorf("expected 2 cache entries, got %d", n)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	a := ghcache.Key("/search/issues", map[string]any{"q": "is:pr", "page": 1})
	b := ghcache.Key("/search/issues", map[string]any{"page": 1, "q": "is:pr"})
	if a != b {
		t.Errorf("expected identical keys, got %q and %q", a, b)
	}
	if got := ghcache.Key("/user", nil); got != "/user:" {
		t.Errorf("unexpected key %q", got)
	}
	if a == ghcache.Key("/search/issues", map[string]any{"q": "is:pr", "page": 2}) {
		t.Error("different params must yield different keys")
	}
}

func TestAcceptHeaderAlwaysPresent(t *testing.T) {
	t.Parallel()

	var accept, auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept.Store(r.Header.Get("Accept"))
		auth.Store(r.Header.Get("Authorization"))
		setQuota(w, 4000)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rc := newRequestCache(nil, nil)
	opts := &ghcache.RequestOptions{Header: http.Header{
		"Accept":        []string{"text/html"},
		"Authorization": []string{"Bearer abc"},
	}}

	if _, err := rc.FetchWithCache(context.Background(), server.URL, opts, 0); err != nil {
		t.Fatal(err)
	}

	if got := accept.Load(); got != "application/vnd.github.v3+json" {
		t.Errorf("expected github json accept header, got %v", got)
	}
	if got := auth.Load(); got != "Bearer abc" {
		t.Errorf("expected caller authorization header, got %v", got)
	}
	if opts.Header.Get("Accept") != "text/html" {
		t.Error("caller headers must not be mutated")
	}
}

func TestTTLOverrides(t *testing.T) {
	t.Parallel()

	server, calls := quotaServer(t, 4000, `[]`)
	u, _ := url.Parse(server.URL)

	currentTime := testTime()
	rc := newRequestCache(&ghcache.Config{
		DefaultTTL:      time.Minute,
		RateLimitBuffer: 10,
		TTLOverrides: []ghcache.TTLOverride{
			{URI: u.Host + "/repos/acme/widgets/branches", Duration: time.Hour},
		},
	}, func() time.Time { return currentTime })
	ctx := context.Background()

	branches := server.URL + "/repos/acme/widgets/branches?page=1"
	pulls := server.URL + "/repos/acme/widgets/pulls"
	for _, target := range []string{branches, pulls} {
		if _, err := rc.FetchWithCache(ctx, target, nil, 0); err != nil {
			t.Fatal(err)
		}
	}

	currentTime = currentTime.Add(10 * time.Minute)

	for _, target := range []string{branches, pulls} {
		if _, err := rc.FetchWithCache(ctx, target, nil, 0); err != nil {
			t.Fatal(err)
		}
	}

	// branches served from cache, pulls refetched
	if calls.Load() != 3 {
		t.Errorf("expected 3 requests to server, got %d", calls.Load())
	}
}

func TestInvalidJSONNotCached(t *testing.T) {
	t.Parallel()

	server, _ := quotaServer(t, 4000, `<html>`)
	rc := newRequestCache(nil, nil)

	_, err := rc.FetchWithCache(context.Background(), server.URL, nil, 0)
	if !errors.Is(err, ghcache.ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	if n, _ := rc.Size(context.Background()); n != 0 {
		t.Errorf("expected nothing cached, got %d", n)
	}
}

func TestTransportErrorPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL
	server.Close()

	rc := newRequestCache(nil, nil)
	_, err := rc.FetchWithCache(context.Background(), target, nil, 0)

	var ue *url.Error
	if !errors.As(err, &ue) {
		t.Fatalf("expected *url.Error, got %T %v", err, err)
	}
	var he *ghcache.HTTPError
	if errors.As(err, &he) || errors.Is(err, ghcache.ErrRateLimitExceeded) {
		t.Errorf("transport errors must not be classified, got %v", err)
	}
}

func TestCoalesceInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		setQuota(w, 4000)
		w.Write([]byte(`{"n":1}`))
	}))
	defer server.Close()

	rc := newRequestCache(&ghcache.Config{RateLimitBuffer: 10, CoalesceInFlight: true}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rc.FetchWithCache(context.Background(), server.URL, nil, 0)
			errs <- err
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single upstream call, got %d", calls.Load())
	}
}

func TestCoalescedFetchSurvivesCanceledCaller(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		setQuota(w, 4000)
		w.Write([]byte(`{"n":1}`))
	}))
	defer server.Close()

	rc := newRequestCache(&ghcache.Config{RateLimitBuffer: 10, CoalesceInFlight: true}, nil)

	// the first caller starts the shared call and then gives up
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := rc.FetchWithCache(ctx, server.URL, nil, 0)
		first <- err
	}()
	time.Sleep(50 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		data, err := rc.FetchWithCache(context.Background(), server.URL, nil, 0)
		if err == nil && string(data) != `{"n":1}` {
			err = fmt.Errorf("unexpected body %s", data)
		}
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the canceled caller to see context.Canceled, got %v", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Fatalf("waiting caller failed with the first caller's cancellation: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single upstream call, got %d", calls.Load())
	}
}

func TestDoUpdatesQuota(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		setQuota(w, 7)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Validation Failed"}`))
	}))
	defer server.Close()

	rc := newRequestCache(nil, nil)

	req, _ := http.NewRequest(http.MethodPatch, server.URL, strings.NewReader(`{"base":"main"}`))
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	err = rc.CheckResponse(resp)
	var he *ghcache.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Body != `{"message":"Validation Failed"}` {
		t.Errorf("expected body attached, got %q", he.Body)
	}
	if rc.RateLimitInfo().Remaining != 7 {
		t.Errorf("expected quota updated by mutation, got %+v", rc.RateLimitInfo())
	}

	req, _ = http.NewRequest(http.MethodPatch, server.URL, nil)
	_, err = rc.Do(req)
	if !errors.Is(err, ghcache.ErrRateLimitExceeded) {
		t.Errorf("expected mutation refused by governor, got %v", err)
	}
	if _, ok := err.(*ghcache.RateLimitError); !ok {
		t.Errorf("expected bare RateLimitError, got %T", err)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	server, _ := quotaServer(t, 1234, `{}`)
	reg := prometheus.NewRegistry()
	m := ghcache.NewMetrics(reg)

	rc := newRequestCache(&ghcache.Config{RateLimitBuffer: 10, Metrics: m}, nil)
	ctx := context.Background()

	for range 3 {
		if _, err := rc.FetchWithCache(ctx, server.URL, nil, 0); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(m.CacheMisses); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheHits); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RateLimitRemaining); got != 1234 {
		t.Errorf("remaining = %v, want 1234", got)
	}
}

func TestFetchDecodes(t *testing.T) {
	t.Parallel()

	server, _ := quotaServer(t, 4000, `{"login":"alice","id":7}`)
	rc := newRequestCache(nil, nil)

	type user struct {
		Login string `json:"login"`
		ID    int    `json:"id"`
	}

	u, err := ghcache.Fetch[user](context.Background(), rc, server.URL, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if u.Login != "alice" || u.ID != 7 {
		t.Errorf("unexpected user %+v", u)
	}

	if _, err := ghcache.Fetch[[]user](context.Background(), rc, server.URL, nil, 0); err == nil {
		t.Error("expected decode error for an object into a slice")
	}
}
