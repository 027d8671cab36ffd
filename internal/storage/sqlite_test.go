package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	store, err := NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func ids(t *testing.T, hits []json.RawMessage) []string {
	t.Helper()

	var result []string
	for _, hit := range hits {
		var doc struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(hit, &doc))
		result = append(result, doc.ID)
	}
	return result
}

func TestIndexAndSearchByField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []any{
		map[string]any{"id": "CVE-2024-0001", "severity": "HIGH"},
		map[string]any{"id": "CVE-2024-0002", "severity": "LOW"},
		map[string]any{"id": "CVE-2024-0003", "severity": "HIGH"},
	}
	require.NoError(t, store.IndexMany(ctx, "advisories-test", docs))

	hits, err := store.Search(ctx, "advisories-test", Query{
		Must: []Filter{{Field: "severity", Value: "HIGH"}},
	}, 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CVE-2024-0001", "CVE-2024-0003"}, ids(t, hits))

	// An empty query returns the whole collection.
	hits, err = store.Search(ctx, "advisories-test", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	// Other collections stay invisible.
	hits, err = store.Search(ctx, "somewhere-else", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchNestedArrayFieldsAndWildcard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []any{
		map[string]any{"id": "CVE-2024-0001", "products": []map[string]any{
			{"name": "acme/foo"},
			{"name": "bar"},
		}},
		map[string]any{"id": "CVE-2024-0002", "products": []map[string]any{
			{"name": "foo"},
		}},
		map[string]any{"id": "CVE-2024-0003", "products": []map[string]any{
			{"name": "unrelated"},
		}},
	}
	require.NoError(t, store.IndexMany(ctx, "advisories-test", docs))

	// Array elements collapse onto the parent path, so products.name matches
	// any element, and the Should group ORs the exact and vendor qualified
	// forms together.
	hits, err := store.Search(ctx, "advisories-test", Query{
		Should: []Filter{
			{Field: "products.name", Value: "foo"},
			{Field: "products.name", Value: "*/foo", Wildcard: true},
		},
	}, 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CVE-2024-0001", "CVE-2024-0002"}, ids(t, hits))
}

func TestSearchMustNot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []any{
		map[string]any{"id": "CVE-2024-0001", "withdrawn": true},
		map[string]any{"id": "CVE-2024-0002"},
	}
	require.NoError(t, store.IndexMany(ctx, "advisories-test", docs))

	hits, err := store.Search(ctx, "advisories-test", Query{
		MustNot: []Filter{{Field: "withdrawn", Value: "true"}},
	}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2024-0002"}, ids(t, hits))
}

func TestUniques(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []any{
		map[string]any{"project": "frontend", "tag": "origin/main", "hash": "aaa"},
		map[string]any{"project": "frontend", "tag": "origin/main", "hash": "bbb"},
		map[string]any{"project": "backend", "tag": "v1.2", "hash": "ccc"},
	}
	require.NoError(t, store.IndexMany(ctx, "scans", docs))

	tuples, err := store.Uniques(ctx, "scans", "project", "tag")
	require.NoError(t, err)
	assert.ElementsMatch(t, []map[string]string{
		{"project": "frontend", "tag": "origin/main"},
		{"project": "backend", "tag": "v1.2"},
	}, tuples)
}

func TestDeleteByFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []any{
		map[string]any{"id": "a", "project": "frontend"},
		map[string]any{"id": "b", "project": "frontend"},
		map[string]any{"id": "c", "project": "backend"},
	}
	require.NoError(t, store.IndexMany(ctx, "vulnerabilities", docs))

	require.NoError(t, store.IndexMany(ctx, "scans", []any{
		map[string]any{"id": "s", "project": "frontend"},
	}))

	deleted, err := store.DeleteByFilter(ctx, "vulnerabilities", Filter{Field: "project", Value: "frontend"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	hits, err := store.Search(ctx, "vulnerabilities", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(t, hits))

	// The deleted documents' keys went with them.
	hits, err = store.Search(ctx, "vulnerabilities", Query{Must: []Filter{{Field: "project", Value: "frontend"}}}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// A sibling collection kept its documents and its keys.
	hits, err = store.Search(ctx, "scans", Query{Must: []Filter{{Field: "project", Value: "frontend"}}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, ids(t, hits))

	// No filters wipes the collection.
	deleted, err = store.DeleteByFilter(ctx, "vulnerabilities")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	hits, err = store.Search(ctx, "vulnerabilities", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestReplaceSwapsCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IndexMany(ctx, "scans", []any{
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
	}))

	require.NoError(t, store.Replace(ctx, "scans", []any{
		map[string]any{"id": "c"},
	}))

	hits, err := store.Search(ctx, "scans", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(t, hits))
}

func TestReplaceKeepsOldContentOnFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IndexMany(ctx, "scans", []any{
		map[string]any{"id": "a"},
	}))

	// Channels do not marshal, the replace fails mid flight and rolls back.
	err := store.Replace(ctx, "scans", []any{make(chan int)})
	require.Error(t, err)

	hits, err := store.Search(ctx, "scans", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(t, hits))
}

func TestPointAliasSwapsAndPrunes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IndexMany(ctx, "advisories-1", []any{
		map[string]any{"id": "old"},
	}))
	require.NoError(t, store.PointAlias(ctx, "advisories", "advisories-1", false))

	hits, err := store.Search(ctx, "advisories", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids(t, hits))

	require.NoError(t, store.IndexMany(ctx, "advisories-2", []any{
		map[string]any{"id": "new"},
	}))
	require.NoError(t, store.PointAlias(ctx, "advisories", "advisories-2", true))

	hits, err = store.Search(ctx, "advisories", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(t, hits))

	// dropOld pruned the generation the alias moved away from.
	hits, err = store.Search(ctx, "advisories-1", Query{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchAllPages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var docs []any
	for i := 0; i < 25; i++ {
		docs = append(docs, map[string]any{"id": fmt.Sprintf("doc-%02d", i)})
	}
	require.NoError(t, store.IndexMany(ctx, "bulk", docs))

	hits, err := SearchAll(ctx, store, "bulk", Query{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 25)
}
