// Package category maintains the per-marketplace category hierarchy and
// answers the blocklist's ancestor/descendant queries against it.
package category

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Node is one category in a marketplace's forest
type Node struct {
	ID       string
	Name     string
	ParentID string
	Path     string // slash-joined id chain from root, e.g. "m:1/m:17/m:204"
}

// Tree holds one marketplace's category forest in memory. Nodes carry a
// materialized path so descendant checks are prefix comparisons instead of
// pointer chasing. The tree is append-only: categories are never reparented.
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewTree creates an empty tree
func NewTree() *Tree {
	return &Tree{nodes: make(map[string]*Node)}
}

// Insert adds a category. The parent must already be present (chains are
// inserted root first); an unknown parent demotes the node to a root, which
// degrades ancestry answers but never blocks insertion.
// Inserting an existing id only fills in a missing name.
func (t *Tree) Insert(id, name, parentID string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.nodes[id]; ok {
		if existing.Name == "" && name != "" {
			existing.Name = name
		}
		return existing
	}

	path := id
	if parentID != "" {
		if parent, ok := t.nodes[parentID]; ok {
			path = parent.Path + "/" + id
		} else {
			logrus.Warnf("Category %s references unknown parent %s, treating as root", id, parentID)
			parentID = ""
		}
	}

	node := &Node{ID: id, Name: name, ParentID: parentID, Path: path}
	t.nodes[id] = node
	return node
}

// Get retrieves a node copy by id, nil if unknown
func (t *Tree) Get(id string) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if node, ok := t.nodes[id]; ok {
		copied := *node
		return &copied
	}
	return nil
}

// IsDescendantOf reports whether id sits in ancestorID's subtree
// (a category is its own descendant). Unknown ids answer false.
func (t *Tree) IsDescendantOf(id, ancestorID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok {
		return false
	}
	ancestor, ok := t.nodes[ancestorID]
	if !ok {
		return false
	}
	return node.Path == ancestor.Path || strings.HasPrefix(node.Path, ancestor.Path+"/")
}

// Ancestors returns the id chain from the category itself up to its root.
// An unknown id yields just itself: ancestry is an optimization, never a
// reason to drop a category from consideration.
func (t *Tree) Ancestors(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok {
		return []string{id}
	}

	parts := strings.Split(node.Path, "/")
	// Path runs root -> leaf; callers want leaf -> root.
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, parts[i])
	}
	return out
}

// Descendants returns the id and every id in its subtree, via materialized
// path prefix scan. An unknown id yields just itself.
func (t *Tree) Descendants(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.nodes[id]
	if !ok {
		return []string{id}
	}

	prefix := node.Path + "/"
	out := []string{id}
	for _, other := range t.nodes {
		if strings.HasPrefix(other.Path, prefix) {
			out = append(out, other.ID)
		}
	}
	return out
}

// Len returns the number of cached categories
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}
