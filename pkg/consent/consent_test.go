package consent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/plugin-telemetry/pkg/settings"
)

type failingStore struct {
	settings.Store
}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func recorder(g *Gate) *[]bool {
	var seen []bool
	g.OnChange(func(_ context.Context, allowed bool) {
		seen = append(seen, allowed)
	})
	return &seen
}

func TestGate_DefaultDenied(t *testing.T) {
	t.Parallel()

	g := New(settings.NewMemory())
	assert.False(t, g.IsAllowed(t.Context()))
}

func TestGate_GrantRevoke(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()
	g := New(store)
	seen := recorder(g)

	require.NoError(t, g.Grant(ctx))
	assert.True(t, g.IsAllowed(ctx))

	v, _, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, settings.Yes, v)

	// No transition, no notification.
	require.NoError(t, g.Grant(ctx))

	require.NoError(t, g.Revoke(ctx))
	assert.False(t, g.IsAllowed(ctx))

	assert.Equal(t, []bool{true, false}, *seen)
}

func TestGate_RevokeWhenNeverGranted(t *testing.T) {
	t.Parallel()

	g := New(settings.NewMemory())
	seen := recorder(g)

	require.NoError(t, g.Revoke(t.Context()))
	assert.Empty(t, *seen)
}

func TestGate_StorageErrorReadsAsDenied(t *testing.T) {
	t.Parallel()

	g := New(failingStore{settings.NewMemory()})
	assert.False(t, g.IsAllowed(t.Context()))
}

func TestGate_CustomKey(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()
	require.NoError(t, store.Set(ctx, "opted_in", settings.Yes))

	g := New(store, WithKey("opted_in"))
	assert.Equal(t, "opted_in", g.Key())
	assert.True(t, g.IsAllowed(ctx))
}

func TestGate_Refresh(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := settings.NewMemory()
	g := New(store)
	seen := recorder(g)

	// Baseline only.
	g.Refresh(ctx)
	assert.Empty(t, *seen)

	// Another process flips the flag.
	require.NoError(t, store.Set(ctx, DefaultKey, settings.Yes))
	g.Refresh(ctx)
	g.Refresh(ctx)
	assert.Equal(t, []bool{true}, *seen)

	require.NoError(t, store.Set(ctx, DefaultKey, settings.No))
	g.Refresh(ctx)
	assert.Equal(t, []bool{true, false}, *seen)
}
