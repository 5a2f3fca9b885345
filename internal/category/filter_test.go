package category

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdeck/internal/catalog"
	"marketdeck/internal/marketplace"
)

func newTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCategories(t *testing.T, store *catalog.Store) {
	t.Helper()
	for _, c := range []*catalog.Category{
		{ID: "mercari:1", Marketplace: "mercari", Name: "Electronics", Path: "mercari:1"},
		{ID: "mercari:17", Marketplace: "mercari", Name: "Cameras", ParentID: "mercari:1", Path: "mercari:1/mercari:17"},
		{ID: "mercari:204", Marketplace: "mercari", Name: "Lenses", ParentID: "mercari:17", Path: "mercari:1/mercari:17/mercari:204"},
	} {
		require.NoError(t, store.AddCategory(c))
	}
}

func TestCache_Resolve(t *testing.T) {
	store := newTestCatalog(t)
	seedCategories(t, store)

	cache := NewCache(store)
	tree, err := cache.Resolve(context.Background(), "mercari")
	require.NoError(t, err)

	assert.Equal(t, 3, tree.Len())
	assert.True(t, tree.IsDescendantOf("mercari:204", "mercari:1"))

	// Second resolve returns the cached tree
	again, err := cache.Resolve(context.Background(), "mercari")
	require.NoError(t, err)
	assert.Same(t, tree, again)
}

func TestCache_InsertChain(t *testing.T) {
	store := newTestCatalog(t)
	cache := NewCache(store)

	chain := []marketplace.CategoryRef{
		{ID: "yahoo:2084", Name: "Hobbies"},
		{ID: "yahoo:26086", Name: "Trading Cards"},
	}
	require.NoError(t, cache.InsertChain(context.Background(), "yahoo", chain))

	tree, err := cache.Resolve(context.Background(), "yahoo")
	require.NoError(t, err)
	assert.True(t, tree.IsDescendantOf("yahoo:26086", "yahoo:2084"))

	// Written through to the store so ancestry survives restarts
	c, err := store.GetCategory("yahoo:26086")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "yahoo:2084", c.ParentID)
	assert.Equal(t, "yahoo:2084/yahoo:26086", c.Path)

	// Reload into a fresh cache
	fresh := NewCache(store)
	tree2, err := fresh.Resolve(context.Background(), "yahoo")
	require.NoError(t, err)
	assert.True(t, tree2.IsDescendantOf("yahoo:26086", "yahoo:2084"))
}

func TestFilter_AncestorBlocking(t *testing.T) {
	store := newTestCatalog(t)
	seedCategories(t, store)

	_, err := store.AddBlocklistEntry("mercari:17", 0)
	require.NoError(t, err)

	filter := NewFilter(store, NewCache(store))
	scope, err := filter.Scope(context.Background(), "mercari", 1)
	require.NoError(t, err)

	assert.True(t, scope.Blocked("mercari:17"), "blocked category itself")
	assert.True(t, scope.Blocked("mercari:204"), "descendant of blocked category")
	assert.False(t, scope.Blocked("mercari:1"), "ancestor of blocked category")
	assert.False(t, scope.Blocked(""), "uncategorized listing")
	assert.False(t, scope.Blocked("mercari:999"), "unknown category with no entry")
}

func TestFilter_KeywordScoping(t *testing.T) {
	store := newTestCatalog(t)
	seedCategories(t, store)

	_, err := store.AddBlocklistEntry("mercari:17", 7)
	require.NoError(t, err)

	filter := NewFilter(store, NewCache(store))

	scoped, err := filter.Scope(context.Background(), "mercari", 7)
	require.NoError(t, err)
	assert.True(t, scoped.Blocked("mercari:204"))

	other, err := filter.Scope(context.Background(), "mercari", 8)
	require.NoError(t, err)
	assert.False(t, other.Blocked("mercari:204"), "entry scoped to another keyword")

	blocked, err := filter.IsBlocked(context.Background(), "mercari:204", 7)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestFilter_HideCategory_Retroactive(t *testing.T) {
	store := newTestCatalog(t)
	seedCategories(t, store)

	mk := func(ext, cat string) int64 {
		id, err := store.UpsertItem(&catalog.Listing{
			Marketplace: "mercari", ExternalID: ext, CategoryID: cat,
		})
		require.NoError(t, err)
		return id
	}
	inSubtree := mk("a", "mercari:204")
	inBlocked := mk("b", "mercari:17")
	outside := mk("c", "mercari:1")
	saved := mk("d", "mercari:204")
	require.NoError(t, store.MarkSaved(saved))

	filter := NewFilter(store, NewCache(store))
	affected, err := filter.HideCategory(context.Background(), "mercari:17", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	for id, wantHidden := range map[int64]bool{
		inSubtree: true, inBlocked: true, outside: false, saved: false,
	} {
		l, err := store.GetItem(id)
		require.NoError(t, err)
		assert.Equal(t, wantHidden, l.Hidden, "listing %d", id)
	}

	// The entry persists, so future ingests see the block too
	scope, err := filter.Scope(context.Background(), "mercari", 1)
	require.NoError(t, err)
	assert.True(t, scope.Blocked("mercari:204"))
}
