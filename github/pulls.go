package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	ghcache "github.com/dgduncan/go-gh-cache"
)

// DefaultSearchPageSize is the page size used by the PR list view.
const DefaultSearchPageSize = 20

// fetchConcurrency bounds the per-PR detail requests issued for one search page.
const fetchConcurrency = 8

// ValidateAuth reports whether the token is accepted by GitHub. Rate limit
// refusals are returned as errors, not as a failed validation.
func (c *Client) ValidateAuth(ctx context.Context) (bool, error) {
	if _, err := c.CurrentUser(ctx); err != nil {
		var he *ghcache.HTTPError
		if errors.As(err, &he) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CurrentUser returns the account that owns the token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, c.base+"/user", &u); err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &u, nil
}

// ListOpenPRs returns the first hundred open pull requests of the repository.
func (c *Client) ListOpenPRs(ctx context.Context) ([]PullRequest, error) {
	var prs []PullRequest
	if err := c.get(ctx, c.repoURL("/pulls?state=open&per_page=%d", pageSize), &prs); err != nil {
		return nil, fmt.Errorf("failed to fetch PRs: %w", err)
	}
	return prs, nil
}

// GetPR returns a single pull request.
func (c *Client) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	var pr PullRequest
	if err := c.get(ctx, c.repoURL("/pulls/%d", number), &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

func (c *Client) searchQuery(login, term string) string {
	q := fmt.Sprintf("repo:%s/%s is:pr is:open author:%s", c.owner, c.repo, login)
	if term = strings.TrimSpace(term); term != "" {
		q += " " + term
	}
	return q
}

// SearchUserPRs returns one page of open pull requests authored by login,
// narrowed by the free-text term. Each hit is loaded in full from the pulls
// endpoint; hits that cannot be loaded are dropped.
func (c *Client) SearchUserPRs(ctx context.Context, login, term string, page, perPage int) (*PRPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultSearchPageSize
	}

	v := url.Values{}
	v.Set("q", c.searchQuery(login, term))
	v.Set("page", strconv.Itoa(page))
	v.Set("per_page", strconv.Itoa(perPage))

	var raw []byte
	if err := c.get(ctx, c.base+"/search/issues?"+v.Encode(), (*rawJSON)(&raw)); err != nil {
		return nil, fmt.Errorf("failed to search PRs: %w", err)
	}

	result := gjson.ParseBytes(raw)
	var numbers []int
	result.Get("items.#.number").ForEach(func(_, n gjson.Result) bool {
		numbers = append(numbers, int(n.Int()))
		return true
	})

	items, err := c.loadPRs(ctx, numbers)
	if err != nil {
		return nil, err
	}

	total := int(result.Get("total_count").Int())
	return &PRPage{
		Items:      items,
		Page:       page,
		TotalCount: total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// loadPRs fetches the given pull requests concurrently, preserving order.
// A rate limit refusal or the end of ctx aborts the batch; other failures
// drop the PR.
func (c *Client) loadPRs(ctx context.Context, numbers []int) ([]PullRequest, error) {
	found := make([]*PullRequest, len(numbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, n := range numbers {
		g.Go(func() error {
			pr, err := c.GetPR(gctx, n)
			if err != nil {
				if errors.Is(err, ghcache.ErrRateLimitExceeded) || ctx.Err() != nil {
					return err
				}
				c.logger.DebugContext(gctx, "dropping pull request", "number", n, "error", err)
				return nil
			}
			found[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prs := make([]PullRequest, 0, len(found))
	for _, pr := range found {
		if pr != nil {
			prs = append(prs, *pr)
		}
	}
	return prs, nil
}

// AllUserPRs pages through SearchUserPRs until the last page the search reports.
func (c *Client) AllUserPRs(ctx context.Context, login, term string) ([]PullRequest, error) {
	var all []PullRequest
	for page := 1; ; page++ {
		p, err := c.SearchUserPRs(ctx, login, term, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)

		if page >= p.TotalPages {
			return all, nil
		}
	}
}

// rawJSON keeps a payload undecoded so it can be read with gjson.
type rawJSON []byte

func (r *rawJSON) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}
