package webhooks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/atmx/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "registry.db"),
		Profile: database.ProfileStandard,
		Name:    "registry",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, zerolog.Nop())
}

func TestRegisterAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hook, err := store.Register(ctx, "https://example.com/hook", []string{EventContractSettled}, "shh")
	require.NoError(t, err)
	assert.NotEmpty(t, hook.ID)
	assert.True(t, hook.Active)

	got, err := store.Get(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, hook.CallbackURL, got.CallbackURL)
	assert.Equal(t, []string{EventContractSettled}, got.Events)
}

func TestRegisterValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Register(ctx, "not-a-url", nil, "")
	assert.Error(t, err)

	_, err = store.Register(ctx, "ftp://example.com/hook", nil, "")
	assert.Error(t, err)

	_, err = store.Register(ctx, "https://example.com/hook", []string{"contract.created"}, "")
	assert.Error(t, err, "unknown event types are rejected")
}

func TestSecretNeverInReadPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hook, err := store.Register(ctx, "https://example.com/hook", nil, "super-secret")
	require.NoError(t, err)

	got, err := store.Get(ctx, hook.ID)
	require.NoError(t, err)

	// The webhook struct has no secret field at all; the only path to the
	// secret is the dedicated accessor.
	secret, err := store.GetSecret(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", secret)
}

func TestGetSecretUnsigned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hook, err := store.Register(ctx, "https://example.com/hook", nil, "")
	require.NoError(t, err)

	secret, err := store.GetSecret(ctx, hook.ID)
	require.NoError(t, err)
	assert.Empty(t, secret)
}

func TestListForEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	all, err := store.Register(ctx, "https://example.com/all", nil, "")
	require.NoError(t, err)
	settledOnly, err := store.Register(ctx, "https://example.com/settled",
		[]string{EventContractSettled}, "")
	require.NoError(t, err)
	_, err = store.Register(ctx, "https://example.com/disputed",
		[]string{EventContractDisputed}, "")
	require.NoError(t, err)

	hooks, err := store.ListForEvent(ctx, EventContractSettled)
	require.NoError(t, err)
	require.Len(t, hooks, 2)

	ids := []string{hooks[0].ID, hooks[1].ID}
	assert.Contains(t, ids, all.ID, "empty event list subscribes to everything")
	assert.Contains(t, ids, settledOnly.ID)
}

func TestRemoveTombstones(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hook, err := store.Register(ctx, "https://example.com/hook", nil, "shh")
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, hook.ID))

	_, err = store.Get(ctx, hook.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// The secret is gone outright.
	secret, err := store.GetSecret(ctx, hook.ID)
	require.NoError(t, err)
	assert.Empty(t, secret)

	// Removing twice is an error: the tombstone is not active.
	assert.ErrorIs(t, store.Remove(ctx, hook.ID), ErrNotFound)
}
