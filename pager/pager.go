// Package pager iterates cursor-paginated listings.
//
// A [Pager] wraps a [FetchFunc] that retrieves one page for a cursor. Pages
// are fetched lazily and sequentially: the next page is requested only after
// the consumer has received every item of the previous one, and a page that
// reports no next cursor ends the listing regardless of how many items it
// held.
package pager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/meigma/acr/errdef"
)

const opPage = "pager.Page"

// ErrCursorLoop is returned when a listing hands back a cursor it has
// already produced, which would otherwise page forever.
var ErrCursorLoop = errors.New("pager: cursor repeated")

// Page is one page of a listing.
type Page[T any] struct {
	Items []T

	// Next is the cursor of the following page; empty on the last page.
	Next string
}

// FetchFunc retrieves the page identified by cursor. The empty cursor
// selects the first page.
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

type config struct {
	minBudget time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Pager.
type Option func(*config)

// WithMinBudget refuses to start a page fetch when less than d remains
// before the context deadline.
func WithMinBudget(d time.Duration) Option {
	return func(c *config) {
		c.minBudget = max(d, 0)
	}
}

// WithLogger sets the logger for page fetch events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock overrides the time source used for budget checks.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Pager fetches the pages of a single listing.
//
// A Pager holds no cursor state and may be iterated any number of times;
// each call to All starts again from the first page. A single iteration
// must not be shared between goroutines.
type Pager[T any] struct {
	fetch FetchFunc[T]
	cfg   config
}

// New returns a Pager for fetch.
func New[T any](fetch FetchFunc[T], opts ...Option) *Pager[T] {
	cfg := config{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pager[T]{fetch: fetch, cfg: cfg}
}

func (p *Pager[T]) log() *slog.Logger {
	if p.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.cfg.logger
}

// Page fetches the single page identified by cursor.
//
// It fails with ErrCancelled or ErrTimeout, without calling the fetch
// function, when ctx is already done or its deadline leaves less than the
// minimum budget. A page whose Next cursor equals cursor fails with
// ErrCursorLoop.
func (p *Pager[T]) Page(ctx context.Context, cursor string) (Page[T], error) {
	if err := p.checkBudget(ctx); err != nil {
		return Page[T]{}, err
	}

	p.log().Debug("fetching page", "cursor", cursor)
	page, err := p.fetch(ctx, cursor)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The fetch raced the cancellation; its result is discarded either way.
		if errors.Is(err, errdef.ErrCancelled) || errors.Is(err, errdef.ErrTimeout) {
			return Page[T]{}, err
		}
		return Page[T]{}, contextError(ctxErr)
	}
	if err != nil {
		return Page[T]{}, err
	}
	if page.Next != "" && page.Next == cursor {
		return Page[T]{}, cursorLoop(cursor)
	}
	return page, nil
}

func (p *Pager[T]) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	remaining := deadline.Sub(p.cfg.now())
	if remaining <= 0 || remaining < p.cfg.minBudget {
		return &errdef.Error{
			Op:   opPage,
			Kind: errdef.ErrTimeout,
			Err:  fmt.Errorf("%s left before deadline, need %s", max(remaining, 0), p.cfg.minBudget),
		}
	}
	return nil
}

func cursorLoop(cursor string) error {
	return &errdef.Error{
		Op:   opPage,
		Kind: errdef.ErrUnexpectedStatus,
		Err:  fmt.Errorf("%w: %q", ErrCursorLoop, cursor),
	}
}

func contextError(ctxErr error) error {
	kind := errdef.ErrCancelled
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		kind = errdef.ErrTimeout
	}
	return &errdef.Error{Op: opPage, Kind: kind, Err: ctxErr}
}

// All returns a lazy sequence over every item of the listing.
//
// Pages are fetched on demand as the consumer advances. When a page fetch
// fails the sequence yields the zero item with the error once and stops;
// items already yielded remain valid. Stopping the iteration early fetches
// no further pages.
func (p *Pager[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		seen := make(map[string]struct{})
		cursor := ""
		for {
			page, err := p.Page(ctx, cursor)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
			if page.Next == "" {
				return
			}
			if _, dup := seen[page.Next]; dup {
				yield(zero, cursorLoop(page.Next))
				return
			}
			seen[page.Next] = struct{}{}
			cursor = page.Next
		}
	}
}

// Collect gathers the items of seq. On failure it returns the items
// received before the error together with the error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for item, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}
