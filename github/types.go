package github

import "time"

// User is the subset of a GitHub account the module reads.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url,omitempty"`
}

type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

type Ref struct {
	Ref string `json:"ref"`
}

// PullRequest is an open pull request as returned by the pulls endpoint.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	HTMLURL   string     `json:"html_url"`
	State     string     `json:"state"`
	MergedAt  *time.Time `json:"merged_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	User      User       `json:"user"`
	Base      Ref        `json:"base"`
	Labels    []Label    `json:"labels"`
}

// LabelNames returns the names of the labels on pr.
func (pr PullRequest) LabelNames() []string {
	names := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		names = append(names, l.Name)
	}
	return names
}

// PRPage is one page of a pull request search.
type PRPage struct {
	Items      []PullRequest
	Page       int
	TotalCount int
	TotalPages int
}
