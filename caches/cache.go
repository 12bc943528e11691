package caches

import "time"

var (
	// DefaultExpiredDuration is how long shared backends keep a row after its
	// TTL has passed before removing it on their own.
	DefaultExpiredDuration = 24 * time.Hour

	// DefaultExpiredTaskTimer is the default duration of the expired task timer
	DefaultExpiredTaskTimer = 10 * time.Minute

	// DefaultKeyPrefix namespaces keys in backends shared with other data.
	DefaultKeyPrefix = "ghcache:"
)
