package session

import (
	"context"
	"fmt"
)

// LabelAction is what ManageLabels does with the given labels.
type LabelAction string

const (
	LabelAdd     LabelAction = "add"
	LabelRemove  LabelAction = "remove"
	LabelReplace LabelAction = "replace"
)

// ParseLabelAction validates s.
func ParseLabelAction(s string) (LabelAction, error) {
	switch a := LabelAction(s); a {
	case LabelAdd, LabelRemove, LabelReplace:
		return a, nil
	}
	return "", fmt.Errorf("unknown label action %q", s)
}

// BulkResult tallies a bulk operation. Errors holds one "PR #<n>: <err>"
// entry per failure, in selection order.
type BulkResult struct {
	Success int
	Failed  int
	Errors  []string
}

func (r *BulkResult) record(number int, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("PR #%d: %s", number, err))
		return
	}
	r.Success++
}

// each applies fn to every selected number in order. A failure is recorded
// and the loop moves on.
func each(numbers []int, fn func(int) error) BulkResult {
	var r BulkResult
	for _, n := range numbers {
		r.record(n, fn(n))
	}
	return r
}

// ChangeBase retargets every selected pull request at base.
func ChangeBase(ctx context.Context, b Backend, numbers []int, base string) BulkResult {
	return each(numbers, func(n int) error {
		return b.UpdatePRBase(ctx, n, base)
	})
}

// ChangeBaseAndLabel retargets every selected pull request and then adds
// labels to it. A pull request whose base change fails is not labelled.
func ChangeBaseAndLabel(ctx context.Context, b Backend, numbers []int, base string, labels []string) BulkResult {
	return each(numbers, func(n int) error {
		if err := b.UpdatePRBase(ctx, n, base); err != nil {
			return err
		}
		if len(labels) == 0 {
			return nil
		}
		return b.AddLabels(ctx, n, labels)
	})
}

// ManageLabels adds, removes or replaces labels on every selected pull request.
func ManageLabels(ctx context.Context, b Backend, numbers []int, action LabelAction, labels []string) (BulkResult, error) {
	var fn func(context.Context, int, []string) error
	switch action {
	case LabelAdd:
		fn = b.AddLabels
	case LabelRemove:
		fn = b.RemoveLabels
	case LabelReplace:
		fn = b.ReplaceLabels
	default:
		return BulkResult{}, fmt.Errorf("unknown label action %q", action)
	}

	return each(numbers, func(n int) error {
		return fn(ctx, n, labels)
	}), nil
}
