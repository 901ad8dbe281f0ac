package pager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/acr/errdef"
)

// sliceSource pages over items with a fixed page size, using the index of
// the next item as cursor.
type sliceSource struct {
	items    []string
	pageSize int
	calls    atomic.Int64

	// before runs ahead of each fetch with the 1-based page number.
	before func(ctx context.Context, page int) error
}

func (s *sliceSource) fetch(ctx context.Context, cursor string) (Page[string], error) {
	n := int(s.calls.Add(1))
	if s.before != nil {
		if err := s.before(ctx, n); err != nil {
			return Page[string]{}, err
		}
	}

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil {
			return Page[string]{}, fmt.Errorf("bad cursor %q", cursor)
		}
	}
	end := min(start+s.pageSize, len(s.items))
	page := Page[string]{Items: s.items[start:end]}
	if end < len(s.items) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func names(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("repo-%02d", i)
	}
	return out
}

func TestAll_PageSizeIndependence(t *testing.T) {
	t.Parallel()

	items := names(23)
	for _, size := range []int{1, 2, 5, 10, 22, 23, 100} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			t.Parallel()

			src := &sliceSource{items: items, pageSize: size}
			got, err := Collect(New(src.fetch).All(context.Background()))
			require.NoError(t, err)
			assert.Equal(t, items, got)
			assert.Equal(t, int64((len(items)+size-1)/size), src.calls.Load())
		})
	}
}

func TestAll_Empty(t *testing.T) {
	t.Parallel()

	src := &sliceSource{pageSize: 10}
	got, err := Collect(New(src.fetch).All(context.Background()))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestAll_ShortPagesDoNotTerminate(t *testing.T) {
	t.Parallel()

	// The server returns fewer items than requested but keeps a cursor, and
	// then an empty page that still carries a cursor.
	pages := map[string]Page[int]{
		"":  {Items: []int{1}, Next: "a"},
		"a": {Items: nil, Next: "b"},
		"b": {Items: []int{2, 3}},
	}
	p := New(func(_ context.Context, cursor string) (Page[int], error) {
		return pages[cursor], nil
	})

	got, err := Collect(p.All(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestAll_Restartable(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: names(5), pageSize: 2}
	p := New(src.fetch)

	first, err := Collect(p.All(context.Background()))
	require.NoError(t, err)
	second, err := Collect(p.All(context.Background()))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(6), src.calls.Load())
}

func TestAll_EarlyBreakFetchesNoMore(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: names(10), pageSize: 3}
	for item, err := range New(src.fetch).All(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, "repo-00", item)
		break
	}
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestAll_CancelDuringSecondOfFivePages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{
		items:    names(10),
		pageSize: 2,
		before: func(ctx context.Context, page int) error {
			if page == 2 {
				cancel()
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		},
	}

	var delivered []string
	var failure error
	for item, err := range New(src.fetch).All(ctx) {
		if err != nil {
			failure = err
			break
		}
		delivered = append(delivered, item)
	}

	require.Error(t, failure)
	assert.ErrorIs(t, failure, errdef.ErrCancelled)
	assert.Equal(t, []string{"repo-00", "repo-01"}, delivered)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestAll_CancelledFetchThatSucceedsIsDiscarded(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{
		items:    names(6),
		pageSize: 2,
		before: func(_ context.Context, page int) error {
			if page == 2 {
				cancel() // the fetch ignores ctx and returns a page anyway
			}
			return nil
		},
	}

	got, err := Collect(New(src.fetch).All(ctx))
	assert.ErrorIs(t, err, errdef.ErrCancelled)
	assert.Equal(t, []string{"repo-00", "repo-01"}, got)
}

func TestAll_FailureKeepsEarlierItems(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	src := &sliceSource{
		items:    names(6),
		pageSize: 2,
		before: func(_ context.Context, page int) error {
			if page == 3 {
				return boom
			}
			return nil
		},
	}

	got, err := Collect(New(src.fetch).All(context.Background()))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, names(4), got)
}

func TestAll_CursorLoop(t *testing.T) {
	t.Parallel()

	t.Run("same cursor", func(t *testing.T) {
		t.Parallel()
		p := New(func(_ context.Context, cursor string) (Page[int], error) {
			if cursor == "" {
				return Page[int]{Items: []int{1}, Next: "x"}, nil
			}
			return Page[int]{Items: []int{2}, Next: "x"}, nil
		})
		got, err := Collect(p.All(context.Background()))
		assert.ErrorIs(t, err, ErrCursorLoop)
		assert.Equal(t, []int{1}, got)

		_, err = p.Page(context.Background(), "x")
		assert.ErrorIs(t, err, ErrCursorLoop)
		assert.Equal(t, errdef.ErrUnexpectedStatus, errdef.Kind(err))
		var e *errdef.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "pager.Page", e.Op)
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()
		next := map[string]string{"": "a", "a": "b", "b": "a"}
		p := New(func(_ context.Context, cursor string) (Page[int], error) {
			return Page[int]{Items: []int{len(cursor)}, Next: next[cursor]}, nil
		})
		_, err := Collect(p.All(context.Background()))
		assert.ErrorIs(t, err, ErrCursorLoop)
		assert.Equal(t, errdef.ErrUnexpectedStatus, errdef.Kind(err))
	})
}

func TestPage_BudgetExhausted(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: names(4), pageSize: 2}
	p := New(src.fetch, WithMinBudget(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := p.Page(ctx, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdef.ErrTimeout)
	assert.Zero(t, src.calls.Load(), "no fetch started without budget")
}

func TestPage_BudgetRunsOutMidSequence(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	var now atomic.Int64
	now.Store(base.UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	src := &sliceSource{
		items:    names(6),
		pageSize: 2,
		before: func(context.Context, int) error {
			now.Add(int64(20 * time.Second))
			return nil
		},
	}
	p := New(src.fetch, WithClock(clock), WithMinBudget(15*time.Second))

	// The real deadline is far away; the budget is judged against the fake clock.
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(time.Hour))
	defer cancel()
	deadlineCtx := &fixedDeadline{Context: ctx, deadline: base.Add(50 * time.Second)}

	got, err := Collect(p.All(deadlineCtx))
	assert.ErrorIs(t, err, errdef.ErrTimeout)
	// Pages 1 and 2 start with 50s and 30s left; page 3 would start with 10s.
	assert.Equal(t, names(4), got)
	assert.Equal(t, int64(2), src.calls.Load())
}

// fixedDeadline reports an arbitrary deadline without arming a timer.
type fixedDeadline struct {
	context.Context
	deadline time.Time
}

func (c *fixedDeadline) Deadline() (time.Time, bool) { return c.deadline, true }

func TestPage_AlreadyCancelled(t *testing.T) {
	t.Parallel()

	src := &sliceSource{items: names(2), pageSize: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(src.fetch).Page(ctx, "")
	assert.ErrorIs(t, err, errdef.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls.Load())
}
