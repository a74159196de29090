package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

func TestFSLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()

	store, err := NewFS(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "logo.png", []byte("live")))
	require.NoError(t, store.Put(ctx, "draft/logo.png", []byte("staged")))
	require.NoError(t, store.Put(ctx, "draft/diagram.png", []byte("new")))

	keys, err := store.ListKeys(ctx, "draft/")
	require.NoError(t, err)
	assert.Equal(t, []string{"logo.png"}, keys)

	drafts, err := store.ListPrefix(ctx, "draft/")
	require.NoError(t, err)
	assert.Equal(t, []string{"draft/diagram.png", "draft/logo.png"}, drafts)

	require.NoError(t, store.Copy(ctx, "draft/logo.png", "logo.png"))
	data, err := os.ReadFile(filepath.Join(root, "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "staged", string(data))

	require.NoError(t, store.Delete(ctx, "draft/logo.png"))
	require.NoError(t, store.Delete(ctx, "draft/diagram.png"))
	require.NoError(t, store.Delete(ctx, "draft/diagram.png"), "deleting a missing object is not an error")

	ok, err := store.Exists(ctx, "draft/logo.png")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoDirExists(t, filepath.Join(root, "draft"))

	ok, err = store.Exists(ctx, "logo.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFSCopyMissing(t *testing.T) {
	t.Parallel()

	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	err = store.Copy(context.Background(), "draft/none.png", "none.png")
	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 404, storeErr.Status)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFSRejectsEscapingKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside.png", "/abs.png", "", "dir/"} {
		assert.Error(t, store.Put(ctx, key, []byte("x")), key)
	}
}
