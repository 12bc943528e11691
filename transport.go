package ghcache

import (
	"io"
	"log/slog"
	"net/http"
)

// GovernedTransport implements http.RoundTripper and keeps a Governor in step
// with every response. Requests are refused with a *RateLimitError, without
// touching the network, while the governor denies admission.
type GovernedTransport struct {
	Wrapped http.RoundTripper

	gov     *Governor
	logger  *slog.Logger
	metrics *Metrics
}

// RoundTrip implements http.RoundTripper.
//
// The process follows these steps:
// 1. Refuses the request if the quota is at or below the reserve
// 2. Sends the request through the wrapped transport
// 3. Records the quota headers of the response, whatever its status.
func (t *GovernedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if !t.gov.Allow() {
		info := t.gov.Info()
		if info != nil {
			t.logger.WarnContext(ctx, "request refused by rate limit governor",
				"url", r.URL.String(),
				"remaining", info.Remaining,
				"reset", info.Reset)
		}
		t.metrics.reject("preflight")
		return nil, &RateLimitError{Info: info}
	}

	resp, err := t.Wrapped.RoundTrip(r)
	if err != nil {
		return resp, err
	}

	info := t.gov.Update(resp.Header)
	t.metrics.remaining(info.Remaining)
	t.logger.DebugContext(ctx, "rate limit updated",
		"url", r.URL.String(),
		"status", resp.StatusCode,
		"remaining", info.Remaining,
		"used", info.Used)

	return resp, nil
}

// Govern creates a transport middleware that puts gov in front of an
// http.RoundTripper. If the logger is nil, a no-op logger writing to
// io.Discard will be used. metrics may be nil.
func Govern(gov *Governor, logger *slog.Logger, metrics *Metrics) func(http.RoundTripper) http.RoundTripper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(rt http.RoundTripper) http.RoundTripper {
		if rt == nil {
			rt = http.DefaultTransport
		}
		return &GovernedTransport{Wrapped: rt, gov: gov, logger: logger, metrics: metrics}
	}
}
