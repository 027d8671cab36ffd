package sbom

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RobsonDevCode/advidex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.SqliteStore {
	t.Helper()

	store, err := storage.NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestLoadFileAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	export := `{"project":"web","tag":"origin/main","hash":"abc123","package":"foo","version":"1.4.0","ecosystem":"npm"}

{"project":"web","tag":"origin/main","hash":"abc123","package":"bar","version":"3.0.0"}
{"project":"api","tag":"v1.2","hash":"def456","package":"baz","version":"0.9.1"}
`
	path := filepath.Join(t.TempDir(), "sbom-export.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(export), 0o644))

	count, err := LoadFile(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	inventory := NewStoreInventory(store)

	refs, err := inventory.Scans(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []ScanRef{
		{Project: "web", Tag: "origin/main", Hash: "abc123"},
		{Project: "api", Tag: "v1.2", Hash: "def456"},
	}, refs)

	deps, err := inventory.Dependencies(ctx, ScanRef{Project: "web", Tag: "origin/main", Hash: "abc123"})
	require.NoError(t, err)
	require.Len(t, deps, 2)

	names := []string{deps[0].Package, deps[1].Package}
	assert.ElementsMatch(t, []string{"foo", "bar"}, names)
}

func TestLoadFileRejectsMalformedLine(t *testing.T) {
	store := newTestStore(t)

	path := filepath.Join(t.TempDir(), "sbom-export.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))

	_, err := LoadFile(context.Background(), store, path)
	require.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := LoadFile(context.Background(), store, filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
}
