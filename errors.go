package ghcache

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded matches every *RateLimitError via errors.Is.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitError is returned when the governor refuses a request before it is
// sent, or when GitHub answers 403 with no quota remaining.
type RateLimitError struct {
	// Upstream is true when GitHub itself reported the exhaustion.
	Upstream bool
	// Info is the snapshot at the time of the refusal, nil when unknown.
	Info *RateLimitInfo
}

func (e *RateLimitError) Error() string {
	if e.Upstream {
		return "github api rate limit exceeded, please try again later"
	}
	return "rate limit exceeded, please try again later"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// HTTPError is any other non-success response.
type HTTPError struct {
	StatusCode int
	StatusText string
	// Body is filled for mutations, where GitHub's message is useful to the user.
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s - %s", e.StatusCode, e.StatusText, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.StatusText)
}
