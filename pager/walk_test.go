package pager

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/acr/errdef"
)

func TestWalk(t *testing.T) {
	t.Parallel()

	errBroken := errors.New("tag list failed")

	tests := []struct {
		name        string
		policy      Policy
		wantVisited int
		wantFailed  int
		wantErr     error
	}{
		{
			name:        "abort on first failure",
			policy:      Policy{},
			wantVisited: 3,
			wantFailed:  1,
			wantErr:     errBroken,
		},
		{
			name:        "skip and continue",
			policy:      Policy{ContinueOnError: true},
			wantVisited: 6,
			wantFailed:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &sliceSource{items: names(6), pageSize: 4}
			stats, err := Walk(context.Background(), New(src.fetch).All(context.Background()), tt.policy,
				func(_ context.Context, repo string) error {
					if repo == "repo-02" || repo == "repo-05" {
						return errBroken
					}
					return nil
				})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.ErrorIs(t, stats.Err(), errBroken)
				assert.Len(t, stats.Errors, tt.wantFailed)
			}
			assert.Equal(t, tt.wantVisited, stats.Visited)
			assert.Equal(t, tt.wantFailed, stats.Failed)
		})
	}
}

func TestWalk_PageErrorAlwaysAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("503")
	src := &sliceSource{
		items:    names(6),
		pageSize: 2,
		before: func(_ context.Context, page int) error {
			if page == 2 {
				return boom
			}
			return nil
		},
	}

	stats, err := Walk(context.Background(), New(src.fetch).All(context.Background()),
		Policy{ContinueOnError: true},
		func(context.Context, string) error { return nil })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, stats.Visited)
	assert.Zero(t, stats.Failed)
}

func TestWalk_LogsSkippedItems(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	src := &sliceSource{items: names(2), pageSize: 10}
	stats, err := Walk(context.Background(), New(src.fetch).All(context.Background()),
		Policy{ContinueOnError: true, Logger: logger},
		func(_ context.Context, repo string) error {
			if repo == "repo-01" {
				return errdef.New("registry.Tags", errdef.ErrPermission, nil)
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, buf.String(), "skipping failed item")
	assert.Contains(t, buf.String(), "repo-01")
}

func TestWalk_CancellationIsNotSkipped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{items: names(5), pageSize: 5}
	stats, err := Walk(ctx, New(src.fetch).All(context.Background()),
		Policy{ContinueOnError: true},
		func(ctx context.Context, repo string) error {
			if repo == "repo-01" {
				cancel()
				return ctx.Err()
			}
			return nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stats.Visited)
}
