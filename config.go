package ghcache

import (
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTTL is used when neither the caller nor a TTLOverride supplies one.
	DefaultTTL = 5 * time.Minute

	// DefaultRateLimitBuffer is the number of requests held in reserve.
	DefaultRateLimitBuffer = 10
)

type Config struct {
	// DefaultTTL applies to entries stored without an explicit ttl.
	DefaultTTL time.Duration

	// RateLimitBuffer is the quota kept in reserve. Requests are admitted only
	// while the tracked remaining count is strictly greater than it.
	RateLimitBuffer int

	// TTLOverrides let slow-changing endpoints (branches, labels) live longer
	// than DefaultTTL. The first override whose URI prefixes host+path wins.
	TTLOverrides []TTLOverride

	// HTTPClient is the base client. Its transport is wrapped by the rate-limit
	// governor; nil means http.DefaultClient.
	HTTPClient *http.Client

	// CoalesceInFlight shares a single upstream call between concurrent misses
	// on the same URL. The shared call is detached from the cancellation of
	// the caller that started it and is bounded by HTTPClient's timeout.
	// Off by default.
	CoalesceInFlight bool

	// Metrics is optional.
	Metrics *Metrics
}

type TTLOverride struct {
	URI string // eg. api.github.com/repos/acme/widgets/branches

	Duration time.Duration // eg. 30m
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      DefaultTTL,
		RateLimitBuffer: DefaultRateLimitBuffer,
	}
}

// ttlFor resolves the time to live for rawURL: explicit ttl, then override,
// then the default.
func (c Config) ttlFor(hostPath string, ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	for _, v := range c.TTLOverrides {
		if strings.HasPrefix(hostPath, v.URI) {
			return v.Duration
		}
	}
	return c.DefaultTTL
}
