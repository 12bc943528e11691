package demo

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgduncan/go-gh-cache/github"
)

// ErrPRNotFound is returned by mutations on a number that was never generated.
var ErrPRNotFound = errors.New("pull request not found")

// Backend serves generated pull requests from memory. Mutations change the
// in-memory data and are visible to later reads.
type Backend struct {
	now func() time.Time

	mu  sync.RWMutex
	prs []github.PullRequest
}

// New creates a Backend holding DefaultCount pull requests generated as of
// now(). Mutations stamp UpdatedAt from the same clock. If 'now' is nil,
// time.Now will be used.
func New(seed uint64, now func() time.Time) *Backend {
	if now == nil {
		now = time.Now
	}
	return &Backend{now: now, prs: Generate(seed, DefaultCount, now())}
}

func (b *Backend) ValidateAuth(context.Context) (bool, error) { return true, nil }

func (b *Backend) CurrentUser(context.Context) (*github.User, error) {
	u := CurrentUser
	return &u, nil
}

func (b *Backend) ListOpenPRs(context.Context) ([]github.PullRequest, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return clonePRs(b.prs), nil
}

// SearchUserPRs filters every generated pull request by term. The login is
// ignored so the demo always has data to show.
func (b *Backend) SearchUserPRs(_ context.Context, _ string, term string, page, perPage int) (*github.PRPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = github.DefaultSearchPageSize
	}

	matched := b.search(term)
	start := min((page-1)*perPage, len(matched))
	end := min(start+perPage, len(matched))

	return &github.PRPage{
		Items:      matched[start:end],
		Page:       page,
		TotalCount: len(matched),
		TotalPages: (len(matched) + perPage - 1) / perPage,
	}, nil
}

func (b *Backend) AllUserPRs(_ context.Context, _ string, term string) ([]github.PullRequest, error) {
	return b.search(term), nil
}

func (b *Backend) ListBranches(context.Context) ([]string, error) {
	return slices.Clone(Branches), nil
}

func (b *Backend) ListLabels(context.Context) ([]github.Label, error) {
	return Labels(), nil
}

func (b *Backend) UpdatePRBase(_ context.Context, number int, base string) error {
	return b.update(number, func(pr *github.PullRequest) {
		pr.Base.Ref = base
	})
}

func (b *Backend) AddLabels(_ context.Context, number int, names []string) error {
	return b.update(number, func(pr *github.PullRequest) {
		for _, name := range names {
			if !hasLabel(pr, name) {
				pr.Labels = append(pr.Labels, label(name))
			}
		}
	})
}

func (b *Backend) RemoveLabels(_ context.Context, number int, names []string) error {
	return b.update(number, func(pr *github.PullRequest) {
		pr.Labels = slices.DeleteFunc(pr.Labels, func(l github.Label) bool {
			return slices.Contains(names, l.Name)
		})
	})
}

func (b *Backend) ReplaceLabels(_ context.Context, number int, names []string) error {
	return b.update(number, func(pr *github.PullRequest) {
		pr.Labels = make([]github.Label, 0, len(names))
		for _, name := range names {
			if !hasLabel(pr, name) {
				pr.Labels = append(pr.Labels, label(name))
			}
		}
	})
}

func (b *Backend) update(number int, fn func(*github.PullRequest)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.prs {
		if b.prs[i].Number == number {
			fn(&b.prs[i])
			b.prs[i].UpdatedAt = b.now().UTC()
			return nil
		}
	}
	return ErrPRNotFound
}

// search matches term case-insensitively against title, number, base branch
// and label names. An empty term matches everything.
func (b *Backend) search(term string) []github.PullRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()

	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return clonePRs(b.prs)
	}

	var out []github.PullRequest
	for _, pr := range b.prs {
		if matches(pr, term) {
			out = append(out, clonePR(pr))
		}
	}
	return out
}

func matches(pr github.PullRequest, term string) bool {
	if strings.Contains(strings.ToLower(pr.Title), term) ||
		strings.Contains(strconv.Itoa(pr.Number), term) ||
		strings.Contains(strings.ToLower(pr.Base.Ref), term) {
		return true
	}
	for _, l := range pr.Labels {
		if strings.Contains(strings.ToLower(l.Name), term) {
			return true
		}
	}
	return false
}

func hasLabel(pr *github.PullRequest, name string) bool {
	return slices.ContainsFunc(pr.Labels, func(l github.Label) bool { return l.Name == name })
}

// label returns the catalog entry for name, or a grey label if it is new.
func label(name string) github.Label {
	for _, l := range labels {
		if l.Name == name {
			return l
		}
	}
	return github.Label{Name: name, Color: "ededed"}
}

func clonePR(pr github.PullRequest) github.PullRequest {
	pr.Labels = slices.Clone(pr.Labels)
	return pr
}

func clonePRs(prs []github.PullRequest) []github.PullRequest {
	out := make([]github.PullRequest, len(prs))
	for i, pr := range prs {
		out[i] = clonePR(pr)
	}
	return out
}
