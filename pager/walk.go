package pager

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/meigma/acr/errdef"
)

// Policy controls how Walk reacts to a failing item.
type Policy struct {
	// ContinueOnError logs item failures and moves on to the next item.
	// When false the first item failure ends the walk.
	ContinueOnError bool

	// Logger receives skipped item failures. Nil discards them.
	Logger *slog.Logger
}

// WalkStats summarizes a walk.
type WalkStats struct {
	// Visited counts items passed to the callback.
	Visited int

	// Failed counts items whose callback returned an error.
	Failed int

	// Errors holds the skipped item failures, in order.
	Errors []error
}

// Err joins the skipped item failures, or returns nil when there were none.
func (s WalkStats) Err() error {
	return errors.Join(s.Errors...)
}

// Walk calls fn for each item of seq.
//
// Errors yielded by seq itself (failed page fetches) always end the walk.
// Errors returned by fn end the walk unless policy.ContinueOnError is set,
// in which case they are logged and recorded in the returned stats.
// Cancellation of ctx ends the walk before the next item.
func Walk[T any](ctx context.Context, seq iter.Seq2[T, error], policy Policy, fn func(context.Context, T) error) (WalkStats, error) {
	logger := policy.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var stats WalkStats
	for item, err := range seq {
		if err != nil {
			return stats, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, contextError(ctxErr)
		}

		stats.Visited++
		if err := fn(ctx, item); err != nil {
			stats.Failed++
			if !policy.ContinueOnError || isContextKind(err) {
				return stats, err
			}
			stats.Errors = append(stats.Errors, err)
			logger.Warn("skipping failed item", "item", item, "error", err)
		}
	}
	return stats, nil
}

func isContextKind(err error) bool {
	return errors.Is(err, errdef.ErrCancelled) || errors.Is(err, errdef.ErrTimeout) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
