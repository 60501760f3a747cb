package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestStoreHitWithinTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeNow{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New(WithNow(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("page"), 6*time.Hour))
	clock.Advance(5 * time.Hour)

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "page", string(got))
}

func TestStoreExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeNow{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New(WithNow(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("page"), time.Hour))
	clock.Advance(time.Hour)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, store.Len())
}

func TestStoreCopiesContent(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	payload := []byte("content")
	require.NoError(t, store.Put(ctx, "k", payload, time.Minute))
	payload[0] = 'C'

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, _, _ := store.Get(ctx, "k")
	require.Equal(t, "content", string(again))
}

func TestStorePutOverwrites(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("interim"), time.Minute))
	require.NoError(t, store.Put(ctx, "k", []byte("final"), time.Minute))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "final", string(got))
}

func TestStoreNonPositiveTTLDeletes(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Put(ctx, "k", []byte("v"), 0))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
