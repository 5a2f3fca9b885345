package category

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"marketdeck/internal/catalog"
	"marketdeck/internal/marketplace"
)

// CatalogStore is the slice of the catalog the cache reads and writes
type CatalogStore interface {
	ListCategories(marketplace string) ([]*catalog.Category, error)
	AddCategory(c *catalog.Category) error
}

// Cache lazily builds one Tree per marketplace from the catalog's category
// table and keeps it for the process lifetime. The populate runs at most
// once per marketplace under concurrent first access; losers of the race
// block until the winner finishes. A failed populate is not cached, so the
// next caller retries.
type Cache struct {
	store CatalogStore

	mu       sync.Mutex
	trees    map[string]*Tree
	inflight map[string]chan struct{}
}

// NewCache creates an empty cache over the given store
func NewCache(store CatalogStore) *Cache {
	return &Cache{
		store:    store,
		trees:    make(map[string]*Tree),
		inflight: make(map[string]chan struct{}),
	}
}

// Resolve returns the category tree for a marketplace, populating it on
// first use
func (c *Cache) Resolve(ctx context.Context, mkt string) (*Tree, error) {
	for {
		c.mu.Lock()
		if tree, ok := c.trees[mkt]; ok {
			c.mu.Unlock()
			return tree, nil
		}
		if wait, ok := c.inflight[mkt]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue // winner finished, re-check
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		wait := make(chan struct{})
		c.inflight[mkt] = wait
		c.mu.Unlock()

		tree, err := c.populate(mkt)

		c.mu.Lock()
		delete(c.inflight, mkt)
		if err == nil {
			c.trees[mkt] = tree
		}
		c.mu.Unlock()
		close(wait)

		return tree, err
	}
}

func (c *Cache) populate(mkt string) (*Tree, error) {
	categories, err := c.store.ListCategories(mkt)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s categories: %w", mkt, err)
	}

	tree := NewTree()
	// Rows arrive parents-first (ordered by path length).
	for _, cat := range categories {
		tree.Insert(cat.ID, cat.Name, cat.ParentID)
	}

	logrus.Infof("Category tree for %s loaded: %d nodes", mkt, tree.Len())
	return tree, nil
}

// InsertChain records a root-first category chain discovered on a detail
// fetch, writing new nodes through to the catalog so ancestry survives
// restarts. Unknown marketplaces resolve lazily like any other access.
func (c *Cache) InsertChain(ctx context.Context, mkt string, chain []marketplace.CategoryRef) error {
	if len(chain) == 0 {
		return nil
	}

	tree, err := c.Resolve(ctx, mkt)
	if err != nil {
		return err
	}

	parentID := ""
	for _, ref := range chain {
		if existing := tree.Get(ref.ID); existing == nil {
			node := tree.Insert(ref.ID, ref.Name, parentID)
			if err := c.store.AddCategory(&catalog.Category{
				ID:          ref.ID,
				Marketplace: mkt,
				Name:        ref.Name,
				ParentID:    parentID,
				Path:        node.Path,
			}); err != nil {
				return err
			}
		}
		parentID = ref.ID
	}
	return nil
}

// MarketplaceOf extracts the marketplace tag from a prefixed category id
func MarketplaceOf(categoryID string) string {
	if i := strings.IndexByte(categoryID, ':'); i > 0 {
		return categoryID[:i]
	}
	return ""
}
