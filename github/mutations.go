package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// UpdatePRBase retargets a pull request at base.
func (c *Client) UpdatePRBase(ctx context.Context, number int, base string) error {
	err := c.send(ctx, http.MethodPatch, c.repoURL("/pulls/%d", number), map[string]string{"base": base})
	if err != nil {
		return fmt.Errorf("failed to update PR base: %w", err)
	}
	return nil
}

// AddLabels adds labels to a pull request, keeping the existing ones.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	err := c.send(ctx, http.MethodPost, c.repoURL("/issues/%d/labels", number), map[string][]string{"labels": labels})
	if err != nil {
		return fmt.Errorf("failed to add labels: %w", err)
	}
	return nil
}

// RemoveLabels removes labels one at a time. A label that is not on the pull
// request is not an error.
func (c *Client) RemoveLabels(ctx context.Context, number int, labels []string) error {
	for _, label := range labels {
		u := c.repoURL("/issues/%d/labels/%s", number, url.PathEscape(label))
		if err := c.send(ctx, http.MethodDelete, u, nil, http.StatusNotFound); err != nil {
			return fmt.Errorf("failed to remove label %s: %w", label, err)
		}
	}
	return nil
}

// ReplaceLabels sets the labels of a pull request to exactly labels.
func (c *Client) ReplaceLabels(ctx context.Context, number int, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	err := c.send(ctx, http.MethodPut, c.repoURL("/issues/%d/labels", number), map[string][]string{"labels": labels})
	if err != nil {
		return fmt.Errorf("failed to replace labels: %w", err)
	}
	return nil
}
