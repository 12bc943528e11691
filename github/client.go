// Package github is a small GitHub REST client for managing a user's open
// pull requests. Reads go through a ghcache.RequestCache, writes through its
// governed transport.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	ghcache "github.com/dgduncan/go-gh-cache"
)

const (
	// DefaultBaseURL is the public GitHub API.
	DefaultBaseURL = "https://api.github.com"

	userAgent = "GitHub-PR-Management"

	// pageSize is the largest page GitHub serves.
	pageSize = 100
)

// Repository identifies the repository a Client operates on.
type Repository struct {
	Owner string
	Repo  string

	// EnterpriseURL is the GitHub Enterprise host, eg. https://github.acme.com.
	// Empty means github.com.
	EnterpriseURL string
}

// BaseURL returns the REST API root for an enterprise host, or the public API
// when enterpriseURL is empty.
func BaseURL(enterpriseURL string) string {
	if enterpriseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(enterpriseURL, "/") + "/api/v3"
}

// Client talks to one repository with one credential. Create a new Client,
// and clear the RequestCache, when either changes.
type Client struct {
	rc     *ghcache.RequestCache
	ts     oauth2.TokenSource
	logger *slog.Logger

	base  string
	owner string
	repo  string
}

// New creates a Client. If logger is nil, a no-op logger writing to io.Discard
// will be used.
func New(rc *ghcache.RequestCache, repo Repository, ts oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		rc:     rc,
		ts:     oauth2.ReuseTokenSource(nil, ts),
		logger: logger,
		base:   BaseURL(repo.EnterpriseURL),
		owner:  repo.Owner,
		repo:   repo.Repo,
	}
}

// BaseURL returns the API root the client sends requests to.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) repoURL(format string, args ...any) string {
	return c.base + "/repos/" + c.owner + "/" + c.repo + fmt.Sprintf(format, args...)
}

func (c *Client) header() (http.Header, error) {
	tok, err := c.ts.Token()
	if err != nil {
		return nil, fmt.Errorf("github: obtain token: %w", err)
	}

	h := http.Header{}
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	h.Set("User-Agent", userAgent)
	return h, nil
}

// get fetches url through the cache and decodes the payload into v.
func (c *Client) get(ctx context.Context, url string, v any) error {
	h, err := c.header()
	if err != nil {
		return err
	}

	data, err := c.rc.FetchWithCache(ctx, url, &ghcache.RequestOptions{Header: h}, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("github: decode %s: %w", url, err)
	}
	return nil
}

// send performs an uncached request. Non-2xx responses are returned as
// *ghcache.HTTPError with GitHub's message attached; ignore lists statuses
// treated as success.
func (c *Client) send(ctx context.Context, method, url string, body any, ignore ...int) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return fmt.Errorf("github: create request: %w", err)
	}

	h, err := c.header()
	if err != nil {
		return err
	}
	req.Header = h
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range ignore {
		if resp.StatusCode == code {
			c.logger.DebugContext(ctx, "ignoring response status", "method", method, "url", url, "status", code)
			return nil
		}
	}

	return c.rc.CheckResponse(resp)
}
