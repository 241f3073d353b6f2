package license

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "license.dat"))
}

func TestFileStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, map[string]string{
		StoreKeyLicense:        "XT-1M-A1B2C3D4-data-sig",
		StoreKeyLastValidation: "2026-06-01T12:00:00Z",
	}))

	values, err := store.Get(ctx, StoreKeyLicense, StoreKeyLastValidation, "missing")
	require.NoError(t, err)
	assert.Equal(t, "XT-1M-A1B2C3D4-data-sig", values[StoreKeyLicense])
	assert.Equal(t, "2026-06-01T12:00:00Z", values[StoreKeyLastValidation])
	assert.NotContains(t, values, "missing")
}

func TestFileStoreGetEmptyStore(t *testing.T) {
	values, err := newTestStore(t).Get(context.Background(), StoreKeyLicense)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestFileStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, map[string]string{StoreKeyLicense: "key", StoreKeyInstallID: "id"}))
	require.NoError(t, store.Delete(ctx, StoreKeyLicense))
	// Deleting again is a no-op.
	require.NoError(t, store.Delete(ctx, StoreKeyLicense))

	values, err := store.Get(ctx, StoreKeyLicense, StoreKeyInstallID)
	require.NoError(t, err)
	assert.NotContains(t, values, StoreKeyLicense)
	assert.Equal(t, "id", values[StoreKeyInstallID])
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "license.dat")

	require.NoError(t, NewFileStore(path).Set(ctx, map[string]string{StoreKeyLicense: "key"}))

	values, err := NewFileStore(path).Get(ctx, StoreKeyLicense)
	require.NoError(t, err)
	assert.Equal(t, "key", values[StoreKeyLicense])
}

func TestFileStoreRestrictedPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "license.dat")
	require.NoError(t, NewFileStore(path).Set(ctx, map[string]string{StoreKeyLicense: "key"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newTestStore(t)
	_, err := store.Get(ctx, StoreKeyLicense)
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, map[string]string{"k": "v"}))
	assert.Error(t, store.Delete(ctx, "k"))
}
