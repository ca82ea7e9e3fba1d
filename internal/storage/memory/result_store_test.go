package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/pipeline"
)

func TestResultStoreGet(t *testing.T) {
	t.Parallel()

	store := NewResultStore(4)
	ctx := context.Background()
	require.NoError(t, store.Handle(ctx, pipeline.Result{SessionID: "a", Domain: "example.com"}))

	got, ok := store.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "example.com", got.Domain)

	_, ok = store.Get(ctx, "b")
	require.False(t, ok)
}

func TestResultStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewResultStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Handle(ctx, pipeline.Result{SessionID: id}))
	}

	require.Equal(t, 2, store.Len())
	_, ok := store.Get(ctx, "a")
	require.False(t, ok)
	_, ok = store.Get(ctx, "c")
	require.True(t, ok)
}

func TestResultStoreReplaceRefreshesPosition(t *testing.T) {
	t.Parallel()

	store := NewResultStore(2)
	ctx := context.Background()
	require.NoError(t, store.Handle(ctx, pipeline.Result{SessionID: "a", Domain: "old"}))
	require.NoError(t, store.Handle(ctx, pipeline.Result{SessionID: "b"}))
	require.NoError(t, store.Handle(ctx, pipeline.Result{SessionID: "a", Domain: "new"}))
	require.NoError(t, store.Handle(ctx, pipeline.Result{SessionID: "c"}))

	got, ok := store.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "new", got.Domain)
	_, ok = store.Get(ctx, "b")
	require.False(t, ok)
}

func TestNewResultStoreDefaultCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultCapacity, NewResultStore(0).capacity)
}
