package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUserStoreCreateAndAuthenticate(t *testing.T) {
	store := NewMemoryUserStore()

	u, err := store.Create("Ada", "ada@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
	assert.NotZero(t, u.ID)

	authed, ok := store.Authenticate("ada@example.com", "hunter2")
	require.True(t, ok)
	assert.Equal(t, u.ID, authed.ID)

	_, ok = store.Authenticate("ada@example.com", "wrong-password")
	assert.False(t, ok)

	_, ok = store.Authenticate("nobody@example.com", "hunter2")
	assert.False(t, ok)
}

func TestMemoryUserStoreRejectsDuplicateEmail(t *testing.T) {
	store := NewMemoryUserStore()

	_, err := store.Create("Ada", "ada@example.com", "hunter2")
	require.NoError(t, err)

	_, err = store.Create("Second Ada", "ada@example.com", "other-pass")
	assert.Error(t, err)
}

func TestMemoryUserStoreAssignsIncrementingIDs(t *testing.T) {
	store := NewMemoryUserStore()

	first, err := store.Create("A", "a@example.com", "p1")
	require.NoError(t, err)
	second, err := store.Create("B", "b@example.com", "p2")
	require.NoError(t, err)

	assert.Equal(t, first.ID+1, second.ID)
}
