package session

import (
	"slices"

	"github.com/dgduncan/go-gh-cache/github"
)

// SelectAll returns the numbers of prs.
func SelectAll(prs []github.PullRequest) []int {
	numbers := make([]int, 0, len(prs))
	for _, pr := range prs {
		numbers = append(numbers, pr.Number)
	}
	return numbers
}

// AllSelected reports whether every one of prs is selected. An empty prs is
// never all selected.
func AllSelected(selected []int, prs []github.PullRequest) bool {
	if len(prs) == 0 {
		return false
	}
	for _, pr := range prs {
		if !slices.Contains(selected, pr.Number) {
			return false
		}
	}
	return true
}

// PruneSelection drops selected numbers that are no longer among prs, eg.
// after a search narrowed the list. With no prs the selection is kept.
func PruneSelection(selected []int, prs []github.PullRequest) []int {
	if len(prs) == 0 {
		return selected
	}
	present := SelectAll(prs)
	return slices.DeleteFunc(slices.Clone(selected), func(n int) bool {
		return !slices.Contains(present, n)
	})
}

// Toggle adds n to the selection, or removes it if already selected.
func Toggle(selected []int, n int) []int {
	if i := slices.Index(selected, n); i >= 0 {
		return slices.Delete(slices.Clone(selected), i, i+1)
	}
	return append(slices.Clone(selected), n)
}

// Select adds n to the selection unless it is already there.
func Select(selected []int, n int) []int {
	if slices.Contains(selected, n) {
		return selected
	}
	return append(slices.Clone(selected), n)
}
