package ghcache

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRateLimitUsed      = "X-RateLimit-Used"
)

// optimistic values assumed before the first response is seen
const (
	initialRemaining = 5000
	initialWindow    = time.Hour
)

// RateLimitInfo is the quota GitHub advertised on the most recent response.
type RateLimitInfo struct {
	Remaining int
	Reset     time.Time
	Used      int
}

// Governor tracks the upstream quota and decides whether another request may
// be sent. A nil snapshot means unknown, which admits.
type Governor struct {
	mu     sync.Mutex
	info   *RateLimitInfo
	buffer int
}

// NewGovernor returns a governor primed with the optimistic default snapshot.
func NewGovernor(buffer int, now func() time.Time) *Governor {
	if now == nil {
		now = time.Now
	}
	return &Governor{
		info: &RateLimitInfo{
			Remaining: initialRemaining,
			Reset:     now().Add(initialWindow),
		},
		buffer: buffer,
	}
}

// Allow reports whether a request may be sent.
func (g *Governor) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.info == nil {
		return true
	}
	return g.info.Remaining > g.buffer
}

// Update replaces the snapshot with the quota headers of h. Missing or
// malformed headers count as zero.
func (g *Governor) Update(h http.Header) RateLimitInfo {
	info := RateLimitInfo{
		Remaining: headerInt(h, headerRateLimitRemaining),
		Reset:     time.Unix(int64(headerInt(h, headerRateLimitReset)), 0),
		Used:      headerInt(h, headerRateLimitUsed),
	}

	g.mu.Lock()
	g.info = &info
	g.mu.Unlock()

	return info
}

// Reset forgets the snapshot.
func (g *Governor) Reset() {
	g.mu.Lock()
	g.info = nil
	g.mu.Unlock()
}

// Info returns a copy of the snapshot, or nil when unknown.
func (g *Governor) Info() *RateLimitInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.info == nil {
		return nil
	}
	info := *g.info
	return &info
}

func headerInt(h http.Header, name string) int {
	n, err := strconv.Atoi(h.Get(name))
	if err != nil {
		return 0
	}
	return n
}
