package github

import (
	"context"
	"fmt"
)

// paginate requests pages of path until an empty or short page, passing each
// decoded page to collect.
func paginate[T any](ctx context.Context, c *Client, path string, collect func([]T)) error {
	for page := 1; ; page++ {
		var items []T
		if err := c.get(ctx, c.repoURL("%s?page=%d&per_page=%d", path, page, pageSize), &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		collect(items)
		if len(items) < pageSize {
			return nil
		}
	}
}

// ListBranches returns the names of every branch in the repository.
func (c *Client) ListBranches(ctx context.Context) ([]string, error) {
	var names []string
	err := paginate(ctx, c, "/branches", func(page []struct {
		Name string `json:"name"`
	}) {
		for _, b := range page {
			names = append(names, b.Name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch branches: %w", err)
	}
	return names, nil
}

// ListLabels returns every label defined in the repository.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	err := paginate(ctx, c, "/labels", func(page []Label) {
		labels = append(labels, page...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch labels: %w", err)
	}
	return labels, nil
}
