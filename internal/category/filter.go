package category

import (
	"context"

	"github.com/sirupsen/logrus"

	"marketdeck/internal/catalog"
)

// BlocklistStore is the slice of the catalog the filter needs
type BlocklistStore interface {
	GetBlocklistEntries(marketplace string) ([]catalog.BlocklistEntry, error)
	AddBlocklistEntry(categoryID string, keywordID int64) (int64, error)
	HideByCategories(categoryIDs []string, keywordID int64) (int64, error)
}

// Filter decides hidden/visible for listings against the category
// blocklist. Blocking a category blocks its whole subtree; the descendant
// relation is computed against the hierarchy cache at decision time.
type Filter struct {
	store BlocklistStore
	cache *Cache
}

// NewFilter creates a filter over the given store and hierarchy cache
func NewFilter(store BlocklistStore, cache *Cache) *Filter {
	return &Filter{store: store, cache: cache}
}

// Scope captures one crawl's blocklist view: the entries for a marketplace
// and the keyword they are evaluated for. Building the scope once per
// keyword crawl keeps per-listing decisions off the database.
type Scope struct {
	tree      *Tree
	entries   []catalog.BlocklistEntry
	keywordID int64
}

// Scope loads the blocklist entries for a marketplace, scoped to one
// keyword. A hierarchy-cache failure degrades to unknown ancestry (exact
// category matches still apply) rather than failing the crawl.
func (f *Filter) Scope(ctx context.Context, mkt string, keywordID int64) (*Scope, error) {
	entries, err := f.store.GetBlocklistEntries(mkt)
	if err != nil {
		return nil, err
	}

	tree, err := f.cache.Resolve(ctx, mkt)
	if err != nil {
		logrus.Warnf("Category tree unavailable for %s, blocklist falls back to exact matches: %v", mkt, err)
		tree = nil
	}

	return &Scope{tree: tree, entries: entries, keywordID: keywordID}, nil
}

// Blocked reports whether a listing in the given category must be hidden
func (s *Scope) Blocked(categoryID string) bool {
	if categoryID == "" || len(s.entries) == 0 {
		return false
	}

	ancestors := []string{categoryID}
	if s.tree != nil {
		ancestors = s.tree.Ancestors(categoryID)
	}

	for _, entry := range s.entries {
		if entry.KeywordID != 0 && entry.KeywordID != s.keywordID {
			continue
		}
		for _, id := range ancestors {
			if entry.CategoryID == id {
				return true
			}
		}
	}
	return false
}

// IsBlocked is the one-off form of Scope().Blocked()
func (f *Filter) IsBlocked(ctx context.Context, categoryID string, keywordID int64) (bool, error) {
	if categoryID == "" {
		return false, nil
	}
	scope, err := f.Scope(ctx, MarketplaceOf(categoryID), keywordID)
	if err != nil {
		return false, err
	}
	return scope.Blocked(categoryID), nil
}

// HideCategory records a blocklist entry and retroactively hides every
// existing listing under the category or any of its descendants, in one
// pass, with the same scoping (keywordID 0 = global) the entry carries.
// Returns the number of listings newly hidden.
func (f *Filter) HideCategory(ctx context.Context, categoryID string, keywordID int64) (int64, error) {
	if _, err := f.store.AddBlocklistEntry(categoryID, keywordID); err != nil {
		return 0, err
	}

	ids := []string{categoryID}
	if tree, err := f.cache.Resolve(ctx, MarketplaceOf(categoryID)); err == nil {
		ids = tree.Descendants(categoryID)
	} else {
		logrus.Warnf("Category tree unavailable, hiding %s without descendants: %v", categoryID, err)
	}

	affected, err := f.store.HideByCategories(ids, keywordID)
	if err != nil {
		return 0, err
	}

	logrus.Infof("Blocked category %s (keyword %d): %d categories in subtree, %d listings hidden",
		categoryID, keywordID, len(ids), affected)
	return affected, nil
}
